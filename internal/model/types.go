package model

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// InputWidth is the fixed width of the input layer: one unit per coordinate.
	InputWidth = 2
	// OutputWidth is the fixed width of the sigmoid output layer.
	OutputWidth = 1
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type Shape string

const (
	ShapeLinear       Shape = "linear"
	ShapeConcentric   Shape = "concentric"
	ShapeTwoClusters  Shape = "twoClusters"
	ShapeCheckerboard Shape = "checkerboard"
	ShapeMoons        Shape = "moons"
	ShapeSpiral       Shape = "spiral"
)

// Shapes lists every dataset shape in presentation order.
func Shapes() []Shape {
	return []Shape{ShapeLinear, ShapeConcentric, ShapeTwoClusters, ShapeCheckerboard, ShapeMoons, ShapeSpiral}
}

// ParseShape resolves a shape selector case-insensitively. Dashes and
// underscores are ignored so "two_clusters" and "two-clusters" both match.
func ParseShape(value string) (Shape, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("_", "", "-", "").Replace(normalized)
	for _, shape := range Shapes() {
		if strings.ToLower(string(shape)) == normalized {
			return shape, nil
		}
	}
	return "", errors.Errorf("unsupported dataset shape: %s", value)
}

type LabeledPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label int     `json:"label"`
}

// Dataset is an immutable snapshot. A regeneration produces a new Dataset
// value with a fresh point slice and a greater generation.
type Dataset struct {
	Generation uint64         `json:"generation"`
	Shape      Shape          `json:"shape"`
	Points     []LabeledPoint `json:"points"`
}

func (d Dataset) Len() int {
	return len(d.Points)
}

type LayerSpec struct {
	Units int `json:"units"`
}

// ArchitectureSpec declares the hidden layers only; the input and output
// widths are fixed.
type ArchitectureSpec struct {
	Generation uint64      `json:"generation"`
	Hidden     []LayerSpec `json:"hidden"`
}

func NewArchitecture(units ...int) ArchitectureSpec {
	hidden := make([]LayerSpec, 0, len(units))
	for _, u := range units {
		hidden = append(hidden, LayerSpec{Units: u})
	}
	return ArchitectureSpec{Hidden: hidden}
}

func (a ArchitectureSpec) Clone() ArchitectureSpec {
	return ArchitectureSpec{
		Generation: a.Generation,
		Hidden:     append([]LayerSpec(nil), a.Hidden...),
	}
}

// Units returns the hidden unit counts in layer order.
func (a ArchitectureSpec) Units() []int {
	out := make([]int, len(a.Hidden))
	for i, layer := range a.Hidden {
		out[i] = layer.Units
	}
	return out
}

// Widths returns every column width including the fixed input and output.
func (a ArchitectureSpec) Widths() []int {
	out := make([]int, 0, len(a.Hidden)+2)
	out = append(out, InputWidth)
	out = append(out, a.Units()...)
	return append(out, OutputWidth)
}

func (a ArchitectureSpec) Validate() error {
	for i, layer := range a.Hidden {
		if layer.Units < 1 {
			return NewArchitectureError(i, layer.Units, "units must be >= 1")
		}
	}
	return nil
}

type LayerVisual struct {
	NodeCount   int       `json:"node_count"`
	Activations []float64 `json:"activations"`
}

func CloneVisuals(visuals []LayerVisual) []LayerVisual {
	out := make([]LayerVisual, len(visuals))
	for i, v := range visuals {
		out[i] = LayerVisual{
			NodeCount:   v.NodeCount,
			Activations: append([]float64(nil), v.Activations...),
		}
	}
	return out
}

type TrainingStatus string

const (
	StatusIdle      TrainingStatus = "idle"
	StatusRunning   TrainingStatus = "running"
	StatusCompleted TrainingStatus = "completed"
	StatusAborted   TrainingStatus = "aborted"
)

type TrainingState struct {
	Status         TrainingStatus `json:"status"`
	CurrentEpoch   int            `json:"current_epoch"`
	TotalEpochs    int            `json:"total_epochs"`
	LossHistory    LossHistory    `json:"loss_history"`
	TrainingLocked bool           `json:"training_locked"`
}

func IdleState() TrainingState {
	return TrainingState{Status: StatusIdle, LossHistory: LossHistory{}}
}

func (s TrainingState) Clone() TrainingState {
	s.LossHistory = append(LossHistory{}, s.LossHistory...)
	return s
}

// ShowsBoundary reports whether the decision boundary overlay is drawn.
func (s TrainingState) ShowsBoundary() bool {
	return s.Status == StatusRunning || s.Status == StatusCompleted
}

type EpochEvent struct {
	RunID             string  `json:"run_id"`
	Epoch             int     `json:"epoch"`
	Loss              float64 `json:"loss"`
	SessionGeneration uint64  `json:"session_generation"`
}

type RunRecord struct {
	VersionedRecord
	ID                string         `json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	Shape             Shape          `json:"shape"`
	Hidden            []int          `json:"hidden"`
	Activation        string         `json:"activation"`
	Optimizer         string         `json:"optimizer"`
	LearningRate      float64        `json:"learning_rate"`
	TotalEpochs       int            `json:"total_epochs"`
	CompletedEpochs   int            `json:"completed_epochs"`
	Status            TrainingStatus `json:"status"`
	FinalLoss         float64        `json:"final_loss"`
	Diverged          bool           `json:"diverged"`
	DatasetGeneration uint64         `json:"dataset_generation"`
	SessionGeneration uint64         `json:"session_generation"`
}

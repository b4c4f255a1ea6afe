package render

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"playground/internal/model"
	"playground/internal/nn"
	"playground/internal/session"
	"playground/internal/stats"
)

const (
	DefaultWidth          = 400
	DefaultHeight         = 400
	DefaultGridResolution = 40
	// DecisionThreshold splits the sigmoid output into the two classes.
	DecisionThreshold = 0.5

	pointRadius = 3.5
	nodeRadius  = 9
	lossPoints  = 200
)

// Session is what the render passes read from a model session.
type Session interface {
	Generation() uint64
	Predict(x *mat.Dense) ([]float64, error)
	Layers() ([]session.LayerDescriptor, error)
}

// ProbePoint is a manually predicted coordinate.
type ProbePoint struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Probability float64 `json:"probability"`
}

// Snapshot is everything one redraw reads. Render passes never modify it.
type Snapshot struct {
	Dataset      model.Dataset
	Architecture model.ArchitectureSpec
	Session      Session
	Visuals      []model.LayerVisual
	Training     model.TrainingState
	Probe        *ProbePoint
}

// Frame is the pair of recorded planes produced by one redraw.
type Frame struct {
	DatasetGeneration uint64                 `json:"dataset_generation"`
	SessionGeneration uint64                 `json:"session_generation"`
	Epoch             int                    `json:"epoch"`
	Training          model.TrainingState    `json:"training"`
	Architecture      model.ArchitectureSpec `json:"architecture"`
	Boundary          bool                   `json:"boundary"`
	DataPlane         []Primitive            `json:"data_plane"`
	NetworkPlane      []Primitive            `json:"network_plane"`
	LossCurve         []Primitive            `json:"loss_curve"`
}

// Synchronizer renders snapshots. It holds no model state; Pool backs the
// decision-boundary grid tensor.
type Synchronizer struct {
	Width          float64
	Height         float64
	GridResolution int
	Pool           *nn.TensorPool
}

func NewSynchronizer(pool *nn.TensorPool) *Synchronizer {
	return &Synchronizer{
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		GridResolution: DefaultGridResolution,
		Pool:           pool,
	}
}

type surface struct {
	width, height float64
	grid          int
	pool          *nn.TensorPool
}

func (s *Synchronizer) surface() surface {
	out := surface{width: s.Width, height: s.Height, grid: s.GridResolution, pool: s.Pool}
	if out.width <= 0 {
		out.width = DefaultWidth
	}
	if out.height <= 0 {
		out.height = DefaultHeight
	}
	if out.grid <= 0 {
		out.grid = DefaultGridResolution
	}
	if out.pool == nil {
		out.pool = nn.NewTensorPool()
	}
	return out
}

// Frame renders both planes and the loss curve into recorded primitives.
func (s *Synchronizer) Frame(snap Snapshot) (Frame, error) {
	data := NewRecorder()
	boundary, err := s.dataPlane(data, snap)
	if err != nil {
		return Frame{}, err
	}
	network := NewRecorder()
	if err := s.NetworkPlane(network, snap); err != nil {
		return Frame{}, err
	}
	loss := NewRecorder()
	s.LossCurve(loss, snap.Training.LossHistory)

	frame := Frame{
		DatasetGeneration: snap.Dataset.Generation,
		Epoch:             snap.Training.CurrentEpoch,
		Training:          snap.Training.Clone(),
		Architecture:      snap.Architecture.Clone(),
		Boundary:          boundary,
		DataPlane:         data.Primitives,
		NetworkPlane:      network.Primitives,
		LossCurve:         loss.Primitives,
	}
	if snap.Session != nil {
		frame.SessionGeneration = snap.Session.Generation()
	}
	return frame, nil
}

// DataPlane draws the dataset glyphs and, while training is running or
// completed, the decision-boundary overlay beneath them.
func (s *Synchronizer) DataPlane(canvas Canvas, snap Snapshot) error {
	_, err := s.dataPlane(canvas, snap)
	return err
}

func (s *Synchronizer) dataPlane(canvas Canvas, snap Snapshot) (bool, error) {
	cfg := s.surface()
	canvas.Rect(0, 0, cfg.width, cfg.height, Style{Fill: colorBackground})

	drawn := false
	if snap.Training.ShowsBoundary() && snap.Session != nil {
		probs, err := cfg.predictGrid(snap.Session)
		switch {
		case model.IsStaleSession(err):
			// the overlay belongs to a superseded session; draw none
		case err != nil:
			return false, errors.Wrap(err, "decision boundary")
		default:
			cfg.drawBoundary(canvas, probs)
			drawn = true
		}
	}

	for _, p := range snap.Dataset.Points {
		px, py := cfg.toSurface(p.X, p.Y)
		style := Style{Fill: ClassColor(p.Label), Stroke: ClassColor(p.Label)}
		if p.Label == 1 {
			canvas.Plus(px, py, pointRadius, style)
		} else {
			canvas.Circle(px, py, pointRadius, Style{Fill: style.Fill, Stroke: colorBackground, StrokeWidth: 1})
		}
	}

	if snap.Probe != nil {
		px, py := cfg.toSurface(snap.Probe.X, snap.Probe.Y)
		canvas.Circle(px, py, pointRadius*2, Style{
			Fill:        ProbabilityColor(snap.Probe.Probability),
			Stroke:      colorAxis,
			StrokeWidth: 2,
		})
	}
	return drawn, nil
}

// predictGrid batch-predicts the center of every grid cell, row-major from
// the top of the surface.
func (s surface) predictGrid(sess Session) ([]float64, error) {
	n := s.grid
	x := s.pool.Acquire(n*n, model.InputWidth)
	defer s.pool.Release(x)

	step := 1 / float64(n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			i := row*n + col
			x.Set(i, 0, (float64(col)+0.5)*step)
			x.Set(i, 1, 1-(float64(row)+0.5)*step)
		}
	}
	probs, err := sess.Predict(x)
	if err != nil {
		return nil, err
	}
	if len(probs) != n*n {
		return nil, errors.Errorf("grid prediction returned %d values for %d cells", len(probs), n*n)
	}
	return probs, nil
}

func (s surface) drawBoundary(canvas Canvas, probs []float64) {
	n := s.grid
	cw, ch := s.width/float64(n), s.height/float64(n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			p := probs[row*n+col]
			canvas.Rect(float64(col)*cw, float64(row)*ch, cw, ch, Style{Fill: ProbabilityColor(p), Opacity: 0.8})
		}
	}
}

func (s surface) toSurface(x, y float64) (float64, float64) {
	return x * s.width, (1 - y) * s.height
}

// Classify thresholds a predicted probability.
func Classify(p float64) int {
	if p >= DecisionThreshold {
		return 1
	}
	return 0
}

// LossCurve draws the loss history as a polyline scaled to the surface.
func (s *Synchronizer) LossCurve(canvas Canvas, history []float64) {
	cfg := s.surface()
	height := cfg.height / 4
	canvas.Rect(0, 0, cfg.width, height, Style{Fill: colorBackground, Stroke: colorNeutral, StrokeWidth: 1})
	points := stats.BuildLossPlot(history, lossPoints)
	if len(points) == 0 {
		return
	}
	maxLoss := 0.0
	for _, p := range points {
		if p.Value > maxLoss {
			maxLoss = p.Value
		}
	}
	if maxLoss == 0 {
		maxLoss = 1
	}
	lastEpoch := float64(points[len(points)-1].Epoch)
	px := func(epoch int) float64 {
		if lastEpoch <= 1 {
			return 0
		}
		return float64(epoch-1) / (lastEpoch - 1) * cfg.width
	}
	py := func(v float64) float64 {
		return height - v/maxLoss*height
	}
	style := Style{Stroke: colorAxis, StrokeWidth: 1.5}
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		canvas.Line(px(prev.Epoch), py(prev.Value), px(cur.Epoch), py(cur.Value), style)
	}
	last := points[len(points)-1]
	canvas.Circle(px(last.Epoch), py(last.Value), 2, Style{Fill: colorAxis})
}

package session

import (
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"playground/internal/model"
)

// Handle is a generation-tagged reference to one built model. Every
// operation re-validates the generation before touching the model.
type Handle struct {
	mgr          *Manager
	generation   uint64
	arch         model.ArchitectureSpec
	activation   string
	learningRate float64

	mu      sync.Mutex
	model   Model
	visuals []model.LayerVisual
}

func (h *Handle) Generation() uint64 {
	return h.generation
}

func (h *Handle) Architecture() model.ArchitectureSpec {
	return h.arch.Clone()
}

func (h *Handle) Activation() string {
	return h.activation
}

func (h *Handle) LearningRate() float64 {
	return h.learningRate
}

// Validate returns StaleSessionError unless h is the current session.
func (h *Handle) Validate() error {
	if h == nil {
		return model.NewStaleSessionError(0, 0)
	}
	current := h.mgr.Generation()
	if current != h.generation {
		return model.NewStaleSessionError(h.generation, current)
	}
	return nil
}

// Current reports whether h is still the live session.
func (h *Handle) Current() bool {
	return h.Validate() == nil
}

func (h *Handle) TrainEpoch(x, y *mat.Dense) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return 0, err
	}
	return h.model.TrainEpoch(x, y)
}

func (h *Handle) Predict(x *mat.Dense) ([]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return nil, err
	}
	return h.model.Predict(x)
}

// Layers describes every weighted layer: the hidden layers then the output.
// A layer whose weights cannot be read has a nil Weights matrix.
func (h *Handle) Layers() ([]LayerDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return nil, err
	}
	out := make([]LayerDescriptor, len(h.visuals))
	for i, v := range h.visuals {
		out[i].Units = v.NodeCount
		if w, ok := h.model.LayerWeights(i); ok {
			out[i].Weights = w
		}
	}
	return out, nil
}

// Visuals returns a copy of the per-layer activation projection.
func (h *Handle) Visuals() []model.LayerVisual {
	h.mu.Lock()
	defer h.mu.Unlock()
	return model.CloneVisuals(h.visuals)
}

// RefreshActivations sets every node's activation to its mean over x.
func (h *Handle) RefreshActivations(x *mat.Dense) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return err
	}
	acts, err := h.model.MeanActivations(x)
	if err != nil {
		return err
	}
	return h.storeActivationsLocked(acts)
}

// Probe predicts a single point and records that point's activations.
func (h *Handle) Probe(x, y float64) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkLocked(); err != nil {
		return 0, err
	}
	input := mat.NewDense(1, model.InputWidth, []float64{x, y})
	probs, err := h.model.Predict(input)
	if err != nil {
		return 0, err
	}
	acts, err := h.model.MeanActivations(input)
	if err != nil {
		return 0, err
	}
	if err := h.storeActivationsLocked(acts); err != nil {
		return 0, err
	}
	return probs[0], nil
}

// storeActivationsLocked copies acts into the existing visuals in place; the
// visuals are only resized by a rebuild.
func (h *Handle) storeActivationsLocked(acts [][]float64) error {
	if len(acts) != len(h.visuals) {
		return errors.Errorf("activation layers %d do not match visuals %d", len(acts), len(h.visuals))
	}
	for i, layer := range acts {
		if len(layer) != h.visuals[i].NodeCount {
			return errors.Errorf("layer %d: %d activations for %d nodes", i, len(layer), h.visuals[i].NodeCount)
		}
	}
	for i, layer := range acts {
		copy(h.visuals[i].Activations, layer)
	}
	return nil
}

func (h *Handle) checkLocked() error {
	if err := h.Validate(); err != nil {
		return err
	}
	if h.model == nil {
		return model.NewStaleSessionError(h.generation, h.mgr.Generation())
	}
	return nil
}

func (h *Handle) dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return
	}
	h.model.Dispose()
	h.model = nil
	h.mgr.live.Dec()
}

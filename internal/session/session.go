package session

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gonum.org/v1/gonum/mat"

	"playground/internal/model"
	"playground/internal/nn"
)

// Model is the trainable-model capability a session wraps. Implementations
// need not be safe for concurrent use; the owning Handle serializes access.
type Model interface {
	TrainEpoch(x, y *mat.Dense) (float64, error)
	Predict(x *mat.Dense) ([]float64, error)
	// MeanActivations returns one slice per weighted layer (hidden layers
	// then the output layer) holding each unit's mean over the input rows.
	MeanActivations(x *mat.Dense) ([][]float64, error)
	// LayerWeights returns a copy of the fan-in x fan-out matrix feeding
	// weighted layer i.
	LayerWeights(i int) (*mat.Dense, bool)
	Dispose()
}

type BuildConfig struct {
	Hidden       []int
	Activation   string
	Optimizer    string
	LearningRate float64
	Seed         int64
}

type Builder func(BuildConfig) (Model, error)

// NetworkBuilder builds and compiles an nn.Network with a binary
// cross-entropy objective.
func NetworkBuilder(cfg BuildConfig) (Model, error) {
	network, err := nn.New(nn.Spec{
		InputWidth: model.InputWidth,
		Hidden:     cfg.Hidden,
		Activation: cfg.Activation,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	if err := network.Compile(nn.CompileOptions{
		Loss:         nn.LossBinaryCrossEntropy,
		Optimizer:    cfg.Optimizer,
		LearningRate: cfg.LearningRate,
	}); err != nil {
		network.Dispose()
		return nil, err
	}
	return network, nil
}

// LayerDescriptor is the read-only projection of one weighted layer.
// Weights is a copy shaped fan-in x Units, nil when unavailable.
type LayerDescriptor struct {
	Units   int
	Weights *mat.Dense
}

type Option func(*Manager)

func WithBuilder(builder Builder) Option {
	return func(m *Manager) {
		if builder != nil {
			m.builder = builder
		}
	}
}

func WithOptimizer(name string) Option {
	return func(m *Manager) {
		m.optimizer = name
	}
}

func WithSeed(seed int64) Option {
	return func(m *Manager) {
		m.seed = seed
	}
}

// Manager owns the single live model. Rebuild supersedes the current handle;
// superseded handles reject every operation with StaleSessionError.
type Manager struct {
	builder   Builder
	optimizer string
	seed      int64

	mu         sync.Mutex
	current    *Handle
	generation atomic.Uint64
	active     atomic.Uint64
	live       atomic.Int64
}

func NewManager(options ...Option) *Manager {
	m := &Manager{builder: NetworkBuilder, optimizer: nn.OptimizerAdam}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Rebuild validates arch, constructs a new model and swaps it in. The
// previous model is disposed once its in-flight operation returns. When
// validation or construction fails the previous session stays current.
func (m *Manager) Rebuild(arch model.ArchitectureSpec, activation string, learningRate float64) (*Handle, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if !nn.Finite(learningRate) || learningRate <= 0 {
		return nil, errors.Errorf("learning rate must be > 0 (got %v)", learningRate)
	}
	if _, err := nn.GetActivation(activation); err != nil {
		return nil, err
	}

	m.mu.Lock()
	generation := m.generation.Load() + 1
	built, err := m.builder(BuildConfig{
		Hidden:       arch.Units(),
		Activation:   activation,
		Optimizer:    m.optimizer,
		LearningRate: learningRate,
		Seed:         m.seed + int64(generation),
	})
	if err != nil {
		m.mu.Unlock()
		return nil, errors.Wrap(err, "build session model")
	}
	m.live.Inc()

	next := &Handle{
		mgr:          m,
		generation:   generation,
		arch:         arch.Clone(),
		activation:   activation,
		learningRate: learningRate,
		model:        built,
		visuals:      zeroVisuals(arch),
	}
	prev := m.current
	m.current = next
	m.generation.Store(generation)
	m.active.Store(generation)
	m.mu.Unlock()

	if prev != nil {
		prev.dispose()
	}
	return next, nil
}

// Current returns the live handle, or nil before the first Rebuild.
func (m *Manager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Generation returns the generation of the current session.
func (m *Manager) Generation() uint64 {
	return m.active.Load()
}

// Live returns the number of undisposed models.
func (m *Manager) Live() int {
	return int(m.live.Load())
}

// Close disposes the current session. Later operations on any handle fail
// as stale.
func (m *Manager) Close() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.active.Store(0)
	m.mu.Unlock()
	if prev != nil {
		prev.dispose()
	}
}

func zeroVisuals(arch model.ArchitectureSpec) []model.LayerVisual {
	units := append(arch.Units(), model.OutputWidth)
	visuals := make([]model.LayerVisual, len(units))
	for i, n := range units {
		visuals[i] = model.LayerVisual{NodeCount: n, Activations: make([]float64, n)}
	}
	return visuals
}

package dataset

import (
	"sync"

	"go.uber.org/atomic"

	"playground/internal/model"
)

// Store owns the current dataset. Published datasets are never mutated; a
// regeneration swaps in a new value with a strictly greater generation.
type Store struct {
	baseSeed int64
	opts     Options
	generate GeneratorFunc

	mu         sync.RWMutex
	current    model.Dataset
	generation atomic.Uint64
	listeners  []func(model.Dataset)
}

type StoreOption func(*Store)

// WithGenerator replaces the shape generator. Used by tests to inject
// malformed output.
func WithGenerator(fn GeneratorFunc) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.generate = fn
		}
	}
}

func WithOptions(opts Options) StoreOption {
	return func(s *Store) {
		s.opts = opts
	}
}

func NewStore(baseSeed int64, options ...StoreOption) *Store {
	s := &Store{
		baseSeed: baseSeed,
		generate: Generate,
		current:  model.Dataset{Points: []model.LabeledPoint{}},
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Regenerate produces and publishes a dataset for shape. On failure the
// current dataset and generation are left untouched.
func (s *Store) Regenerate(shape model.Shape) (model.Dataset, error) {
	s.mu.Lock()
	next := s.generation.Load() + 1
	opts := s.opts
	opts.Seed = s.baseSeed + int64(next)
	points, err := s.generate(shape, opts)
	if err != nil {
		s.mu.Unlock()
		return model.Dataset{}, err
	}
	if len(points) == 0 {
		s.mu.Unlock()
		return model.Dataset{}, model.NewInvalidDatasetError(-1, model.LabeledPoint{}, "generator produced no points")
	}
	if err := Validate(points); err != nil {
		s.mu.Unlock()
		return model.Dataset{}, err
	}
	s.generation.Store(next)
	s.current = model.Dataset{Generation: next, Shape: shape, Points: points}
	published := s.current
	listeners := append([]func(model.Dataset){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(published)
	}
	return published, nil
}

func (s *Store) Current() model.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

// OnChange registers fn to run after every successful regeneration, outside
// the store lock.
func (s *Store) OnChange(fn func(model.Dataset)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

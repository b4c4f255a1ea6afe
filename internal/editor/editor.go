package editor

import (
	"sync"

	"playground/internal/model"
)

// DefaultUnits is the width of a newly added hidden layer.
const DefaultUnits = 4

// Locker reports whether architecture edits are currently rejected.
type Locker interface {
	TrainingLocked() bool
}

type LockerFunc func() bool

func (f LockerFunc) TrainingLocked() bool {
	return f()
}

// ApplyFunc rebuilds the model session for a candidate spec. A non-nil
// error rejects the edit.
type ApplyFunc func(model.ArchitectureSpec) error

// Editor mutates a working copy of the architecture and commits it only
// after apply succeeds.
type Editor struct {
	lock  Locker
	apply ApplyFunc

	mu   sync.Mutex
	spec model.ArchitectureSpec
}

func New(initial model.ArchitectureSpec, lock Locker, apply ApplyFunc) *Editor {
	return &Editor{lock: lock, apply: apply, spec: initial.Clone()}
}

func (e *Editor) Spec() model.ArchitectureSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spec.Clone()
}

func (e *Editor) AddLayer() (model.ArchitectureSpec, error) {
	return e.edit("add layer", func(hidden []model.LayerSpec) ([]model.LayerSpec, error) {
		return append(hidden, model.LayerSpec{Units: DefaultUnits}), nil
	})
}

// RemoveLayer drops hidden layer index. Removing the last hidden layer is
// allowed; the input and output columns are fixed.
func (e *Editor) RemoveLayer(index int) (model.ArchitectureSpec, error) {
	return e.edit("remove layer", func(hidden []model.LayerSpec) ([]model.LayerSpec, error) {
		if err := checkIndex(index, hidden); err != nil {
			return nil, err
		}
		return append(hidden[:index], hidden[index+1:]...), nil
	})
}

func (e *Editor) AddUnit(index int) (model.ArchitectureSpec, error) {
	return e.edit("add unit", func(hidden []model.LayerSpec) ([]model.LayerSpec, error) {
		if err := checkIndex(index, hidden); err != nil {
			return nil, err
		}
		hidden[index].Units++
		return hidden, nil
	})
}

// RemoveUnit decrements a layer's width, clamped to a floor of 1.
func (e *Editor) RemoveUnit(index int) (model.ArchitectureSpec, error) {
	return e.edit("remove unit", func(hidden []model.LayerSpec) ([]model.LayerSpec, error) {
		if err := checkIndex(index, hidden); err != nil {
			return nil, err
		}
		if hidden[index].Units > 1 {
			hidden[index].Units--
		}
		return hidden, nil
	})
}

// Set replaces every hidden layer at once.
func (e *Editor) Set(units []int) (model.ArchitectureSpec, error) {
	return e.edit("set architecture", func([]model.LayerSpec) ([]model.LayerSpec, error) {
		candidate := model.NewArchitecture(units...)
		if err := candidate.Validate(); err != nil {
			return nil, err
		}
		return candidate.Hidden, nil
	})
}

func (e *Editor) edit(op string, mutate func([]model.LayerSpec) ([]model.LayerSpec, error)) (model.ArchitectureSpec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lock != nil && e.lock.TrainingLocked() {
		return model.ArchitectureSpec{}, model.NewTrainingLockedError(op)
	}

	working := e.spec.Clone()
	hidden, err := mutate(working.Hidden)
	if err != nil {
		return model.ArchitectureSpec{}, err
	}
	candidate := model.ArchitectureSpec{Generation: e.spec.Generation + 1, Hidden: hidden}
	if err := candidate.Validate(); err != nil {
		return model.ArchitectureSpec{}, err
	}
	if e.apply != nil {
		if err := e.apply(candidate.Clone()); err != nil {
			return model.ArchitectureSpec{}, err
		}
	}
	e.spec = candidate
	return candidate.Clone(), nil
}

func checkIndex(index int, hidden []model.LayerSpec) error {
	if index < 0 || index >= len(hidden) {
		return model.NewIndexError(index, len(hidden))
	}
	return nil
}

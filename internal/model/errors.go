package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvalidDatasetError reports a generated point that failed validation.
type InvalidDatasetError struct {
	Index  int
	Point  LabeledPoint
	Reason string
}

func (e *InvalidDatasetError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid dataset: %s", e.Reason)
	}
	return fmt.Sprintf("invalid dataset: point %d (%g, %g, label=%d): %s", e.Index, e.Point.X, e.Point.Y, e.Point.Label, e.Reason)
}

func NewInvalidDatasetError(index int, point LabeledPoint, reason string) error {
	return errors.WithStack(&InvalidDatasetError{Index: index, Point: point, Reason: reason})
}

type ArchitectureError struct {
	Layer  int
	Units  int
	Reason string
}

func (e *ArchitectureError) Error() string {
	if e.Layer < 0 {
		return fmt.Sprintf("invalid architecture: %s", e.Reason)
	}
	return fmt.Sprintf("invalid architecture: hidden layer %d units=%d: %s", e.Layer, e.Units, e.Reason)
}

func NewArchitectureError(layer, units int, reason string) error {
	return errors.WithStack(&ArchitectureError{Layer: layer, Units: units, Reason: reason})
}

// StaleSessionError is returned by an operation invoked through a session
// handle that is no longer current. Consumers drop it silently.
type StaleSessionError struct {
	Generation uint64
	Current    uint64
}

func (e *StaleSessionError) Error() string {
	return fmt.Sprintf("stale session: generation=%d current=%d", e.Generation, e.Current)
}

func NewStaleSessionError(generation, current uint64) error {
	return errors.WithStack(&StaleSessionError{Generation: generation, Current: current})
}

type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "training precondition failed: " + e.Reason
}

func NewPreconditionError(reason string) error {
	return errors.WithStack(&PreconditionError{Reason: reason})
}

// DivergenceError marks a run halted by a non-finite loss.
type DivergenceError struct {
	Epoch int
	Loss  float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("training diverged: epoch=%d loss=%v", e.Epoch, e.Loss)
}

func NewDivergenceError(epoch int, loss float64) error {
	return errors.WithStack(&DivergenceError{Epoch: epoch, Loss: loss})
}

type TrainingLockedError struct {
	Op string
}

func (e *TrainingLockedError) Error() string {
	return fmt.Sprintf("%s rejected: training is running", e.Op)
}

func NewTrainingLockedError(op string) error {
	return errors.WithStack(&TrainingLockedError{Op: op})
}

type IndexError struct {
	Index  int
	Layers int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("hidden layer index %d out of range [0,%d)", e.Index, e.Layers)
}

func NewIndexError(index, layers int) error {
	return errors.WithStack(&IndexError{Index: index, Layers: layers})
}

func IsStaleSession(err error) bool {
	var target *StaleSessionError
	return errors.As(err, &target)
}

func IsTrainingLocked(err error) bool {
	var target *TrainingLockedError
	return errors.As(err, &target)
}

func IsDivergence(err error) bool {
	var target *DivergenceError
	return errors.As(err, &target)
}

package training

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"playground/internal/model"
)

// Result summarizes a finished run. LossHistory holds every recorded loss,
// including a terminal non-finite one.
type Result struct {
	RunID             string
	Status            model.TrainingStatus
	CompletedEpochs   int
	TotalEpochs       int
	LossHistory       []float64
	FinalLoss         float64
	Diverged          bool
	SessionGeneration uint64
	DatasetGeneration uint64
	Err               error
}

func (r Result) Cancelled() bool {
	return errors.Is(r.Err, ErrCancelled)
}

// Run is one training run. Its events are delivered in increasing epoch
// order and the channel is closed when the run finishes.
type Run struct {
	ID                uuid.UUID
	SessionGeneration uint64
	DatasetGeneration uint64
	TotalEpochs       int

	events chan model.EpochEvent
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	result Result
}

func (r *Run) Events() <-chan model.EpochEvent {
	return r.events
}

func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its terminal error: nil on
// completion, a DivergenceError, ErrCancelled, or the model's error.
func (r *Run) Wait() error {
	<-r.done
	return r.result.Err
}

// Result blocks until the run finishes.
func (r *Run) Result() Result {
	<-r.done
	return r.result
}

func (r *Run) finish(result Result) {
	r.result = result
	r.cancel()
	close(r.events)
	close(r.done)
}

package training

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"playground/internal/dataset"
	"playground/internal/model"
	"playground/internal/nn"
)

// ErrCancelled is returned by Run.Wait when the run was stopped, superseded
// or invalidated before its last epoch.
var ErrCancelled = errors.New("training run cancelled")

// Session is the slice of a model session the controller borrows. The
// generation is re-validated by TrainEpoch itself.
type Session interface {
	Generation() uint64
	Validate() error
	TrainEpoch(x, y *mat.Dense) (float64, error)
}

type Hooks struct {
	OnEpoch  func(model.EpochEvent)
	OnFinish func(Result)
}

type Controller struct {
	pool  *nn.TensorPool
	hooks Hooks

	mu    sync.Mutex
	state model.TrainingState
	run   *Run
}

func NewController(pool *nn.TensorPool) *Controller {
	return NewControllerWithHooks(pool, Hooks{})
}

func NewControllerWithHooks(pool *nn.TensorPool, hooks Hooks) *Controller {
	if pool == nil {
		pool = nn.NewTensorPool()
	}
	return &Controller{pool: pool, hooks: hooks, state: model.IdleState()}
}

// Start launches a run of totalEpochs sequential epochs against sess. A run
// already in progress is cancelled first; its in-flight epoch finishes but
// its result is discarded.
func (c *Controller) Start(ctx context.Context, data model.Dataset, sess Session, totalEpochs int) (*Run, error) {
	if totalEpochs <= 0 {
		return nil, model.NewPreconditionError("total epochs must be > 0")
	}
	if data.Len() == 0 {
		return nil, model.NewPreconditionError("dataset is empty")
	}
	if err := dataset.Validate(data.Points); err != nil {
		return nil, model.NewPreconditionError(err.Error())
	}
	if sess == nil {
		return nil, model.NewPreconditionError("no model session")
	}
	if err := sess.Validate(); err != nil {
		return nil, model.NewPreconditionError(err.Error())
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:                uuid.New(),
		SessionGeneration: sess.Generation(),
		DatasetGeneration: data.Generation,
		TotalEpochs:       totalEpochs,
		events:            make(chan model.EpochEvent, totalEpochs),
		done:              make(chan struct{}),
		ctx:               runCtx,
		cancel:            cancel,
	}

	x := c.pool.Acquire(data.Len(), model.InputWidth)
	y := c.pool.Acquire(data.Len(), model.OutputWidth)
	for i, p := range data.Points {
		x.Set(i, 0, p.X)
		x.Set(i, 1, p.Y)
		y.Set(i, 0, float64(p.Label))
	}

	c.mu.Lock()
	if c.run != nil {
		c.run.cancel()
	}
	c.run = run
	c.state = model.TrainingState{
		Status:         model.StatusRunning,
		TotalEpochs:    totalEpochs,
		LossHistory:    make([]float64, 0, totalEpochs),
		TrainingLocked: true,
	}
	c.mu.Unlock()

	go c.loop(run, sess, x, y)
	return run, nil
}

// Stop cancels the running run. The state becomes Aborted with the partial
// loss history kept.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil || c.state.Status != model.StatusRunning {
		return false
	}
	c.run.cancel()
	c.state.Status = model.StatusAborted
	c.state.TrainingLocked = false
	return true
}

// Invalidate cancels any run and resets the state to Idle with an empty
// history. Used when the dataset or the architecture changes.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		c.run.cancel()
		c.run = nil
	}
	c.state = model.IdleState()
}

func (c *Controller) State() model.TrainingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Controller) TrainingLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TrainingLocked
}

// Active returns the run the current state belongs to, if any.
func (c *Controller) Active() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

func (c *Controller) loop(run *Run, sess Session, x, y *mat.Dense) {
	defer c.pool.Release(x, y)

	history := make([]float64, 0, run.TotalEpochs)
	for epoch := 1; epoch <= run.TotalEpochs; epoch++ {
		if run.ctx.Err() != nil {
			c.finish(run, history, ErrCancelled)
			return
		}
		loss, err := sess.TrainEpoch(x, y)

		c.mu.Lock()
		if c.run != run || run.ctx.Err() != nil {
			c.mu.Unlock()
			c.finish(run, history, ErrCancelled)
			return
		}
		if err != nil {
			c.mu.Unlock()
			if model.IsStaleSession(err) {
				err = ErrCancelled
			}
			c.finish(run, history, err)
			return
		}
		history = append(history, loss)
		c.state.LossHistory = append(c.state.LossHistory, loss)
		c.state.CurrentEpoch = epoch
		event := model.EpochEvent{
			RunID:             run.ID.String(),
			Epoch:             epoch,
			Loss:              loss,
			SessionGeneration: run.SessionGeneration,
		}
		c.mu.Unlock()

		run.events <- event
		if c.hooks.OnEpoch != nil {
			c.hooks.OnEpoch(event)
		}
		if !nn.Finite(loss) {
			c.finish(run, history, model.NewDivergenceError(epoch, loss))
			return
		}
	}
	c.finish(run, history, nil)
}

func (c *Controller) finish(run *Run, history []float64, err error) {
	status := model.StatusCompleted
	if err != nil {
		status = model.StatusAborted
	}
	result := Result{
		RunID:             run.ID.String(),
		Status:            status,
		CompletedEpochs:   len(history),
		TotalEpochs:       run.TotalEpochs,
		LossHistory:       history,
		SessionGeneration: run.SessionGeneration,
		DatasetGeneration: run.DatasetGeneration,
		Err:               err,
	}
	result.FinalLoss, result.Diverged = lastFinite(history)

	c.mu.Lock()
	if c.run == run && c.state.Status == model.StatusRunning {
		c.state.Status = status
		c.state.TrainingLocked = false
	}
	c.mu.Unlock()

	run.finish(result)
	if c.hooks.OnFinish != nil {
		c.hooks.OnFinish(result)
	}
}

// lastFinite returns the last finite loss and whether any loss was not.
func lastFinite(history []float64) (float64, bool) {
	last, diverged := 0.0, false
	for _, loss := range history {
		if nn.Finite(loss) {
			last = loss
		} else {
			diverged = true
		}
	}
	return last, diverged
}

package training

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"playground/internal/dataset"
	"playground/internal/model"
	"playground/internal/nn"
)

type fakeSession struct {
	mu         sync.Mutex
	generation uint64
	stale      bool
	losses     map[int]float64
	calls      int
	gate       chan struct{}
	entered    chan int
}

func (f *fakeSession) Generation() uint64 { return f.generation }

func (f *fakeSession) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale {
		return model.NewStaleSessionError(f.generation, f.generation+1)
	}
	return nil
}

func (f *fakeSession) TrainEpoch(x, y *mat.Dense) (float64, error) {
	f.mu.Lock()
	f.calls++
	epoch := f.calls
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- epoch
	}
	if f.gate != nil {
		<-f.gate
	}
	if loss, ok := f.losses[epoch]; ok {
		return loss, nil
	}
	return 1 / float64(epoch), nil
}

func (f *fakeSession) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDataset(t *testing.T) model.Dataset {
	t.Helper()
	points, err := dataset.Generate(model.ShapeLinear, dataset.Options{Seed: 1, NumPoints: 20})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return model.Dataset{Generation: 1, Shape: model.ShapeLinear, Points: points}
}

func TestStartCompletesAndEmitsOrderedEvents(t *testing.T) {
	pool := nn.NewTensorPool()
	c := NewController(pool)
	sess := &fakeSession{generation: 4}

	run, err := c.Start(context.Background(), testDataset(t), sess, 5)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var epochs []int
	for event := range run.Events() {
		if event.SessionGeneration != 4 {
			t.Fatalf("unexpected event generation %d", event.SessionGeneration)
		}
		if event.RunID != run.ID.String() {
			t.Fatalf("unexpected run id %s", event.RunID)
		}
		epochs = append(epochs, event.Epoch)
	}
	if err := run.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(epochs) != 5 {
		t.Fatalf("expected 5 events, got %v", epochs)
	}
	for i, epoch := range epochs {
		if epoch != i+1 {
			t.Fatalf("events out of order: %v", epochs)
		}
	}
	state := c.State()
	if state.Status != model.StatusCompleted || state.CurrentEpoch != 5 || len(state.LossHistory) != 5 {
		t.Fatalf("unexpected final state: %+v", state)
	}
	if state.TrainingLocked {
		t.Fatal("expected training unlocked after completion")
	}
	if pool.Live() != 0 {
		t.Fatalf("expected tensors released, %d live", pool.Live())
	}
	result := run.Result()
	if result.Status != model.StatusCompleted || result.CompletedEpochs != 5 || result.FinalLoss != 0.2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestNonFiniteLossAbortsRun(t *testing.T) {
	pool := nn.NewTensorPool()
	c := NewController(pool)
	sess := &fakeSession{generation: 1, losses: map[int]float64{3: math.NaN()}}

	run, err := c.Start(context.Background(), testDataset(t), sess, 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var events []model.EpochEvent
	for event := range run.Events() {
		events = append(events, event)
	}
	var divergence *model.DivergenceError
	if err := run.Wait(); !errors.As(err, &divergence) {
		t.Fatalf("expected DivergenceError, got: %v", err)
	}
	if !model.IsDivergence(run.Wait()) {
		t.Fatal("expected IsDivergence to match the run error")
	}
	if divergence.Epoch != 3 {
		t.Fatalf("expected divergence at epoch 3, got %d", divergence.Epoch)
	}
	state := c.State()
	if state.Status != model.StatusAborted {
		t.Fatalf("expected aborted, got %s", state.Status)
	}
	if len(state.LossHistory) != 3 || state.CurrentEpoch != 3 {
		t.Fatalf("expected 3 recorded epochs, got history=%d epoch=%d", len(state.LossHistory), state.CurrentEpoch)
	}
	if sess.Calls() != 3 {
		t.Fatalf("expected epochs 4-10 never run, got %d calls", sess.Calls())
	}
	if len(events) != 3 || !math.IsNaN(events[2].Loss) {
		t.Fatalf("expected halting event for epoch 3, got %+v", events)
	}
	result := run.Result()
	if !result.Diverged || result.FinalLoss != 0.5 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if pool.Live() != 0 {
		t.Fatalf("expected tensors released, %d live", pool.Live())
	}
}

func TestStartPreconditions(t *testing.T) {
	c := NewController(nil)
	data := testDataset(t)

	cases := []struct {
		name   string
		data   model.Dataset
		sess   Session
		epochs int
	}{
		{name: "empty dataset", data: model.Dataset{}, sess: &fakeSession{}, epochs: 1},
		{name: "invalid dataset", data: model.Dataset{Points: []model.LabeledPoint{{X: math.Inf(1)}}}, sess: &fakeSession{}, epochs: 1},
		{name: "stale session", data: data, sess: &fakeSession{stale: true}, epochs: 1},
		{name: "nil session", data: data, sess: nil, epochs: 1},
		{name: "zero epochs", data: data, sess: &fakeSession{}, epochs: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Start(context.Background(), tc.data, tc.sess, tc.epochs)
			if !errors.As(err, new(*model.PreconditionError)) {
				t.Fatalf("expected PreconditionError, got: %v", err)
			}
			if c.State().Status != model.StatusIdle {
				t.Fatalf("expected training not started, got %s", c.State().Status)
			}
		})
	}
}

func TestStopKeepsPartialHistory(t *testing.T) {
	pool := nn.NewTensorPool()
	c := NewController(pool)
	gate := make(chan struct{})
	entered := make(chan int, 10)
	sess := &fakeSession{generation: 1, gate: gate, entered: entered}

	run, err := c.Start(context.Background(), testDataset(t), sess, 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	gate <- struct{}{}
	<-entered
	if !c.Stop() {
		t.Fatal("expected stop to cancel the running run")
	}
	if c.TrainingLocked() {
		t.Fatal("expected unlocked after stop")
	}
	close(gate)

	if err := run.Wait(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got: %v", err)
	}
	if !run.Result().Cancelled() {
		t.Fatalf("expected cancelled result, got %+v", run.Result())
	}
	state := c.State()
	if state.Status != model.StatusAborted || len(state.LossHistory) != 1 {
		t.Fatalf("expected aborted with one recorded epoch, got %+v", state)
	}
	if pool.Live() != 0 {
		t.Fatalf("expected tensors released, %d live", pool.Live())
	}
	if c.Stop() {
		t.Fatal("expected second stop to be a no-op")
	}
}

func TestStartCancelsPriorRun(t *testing.T) {
	pool := nn.NewTensorPool()
	c := NewController(pool)
	gate := make(chan struct{})
	entered := make(chan int, 10)
	first := &fakeSession{generation: 1, gate: gate, entered: entered}

	prior, err := c.Start(context.Background(), testDataset(t), first, 10)
	if err != nil {
		t.Fatalf("start prior: %v", err)
	}
	<-entered

	next, err := c.Start(context.Background(), testDataset(t), &fakeSession{generation: 2}, 3)
	if err != nil {
		t.Fatalf("start next: %v", err)
	}
	close(gate)

	if err := prior.Wait(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected prior run cancelled, got: %v", err)
	}
	for event := range prior.Events() {
		t.Fatalf("expected in-flight result of prior run discarded, got %+v", event)
	}
	if err := next.Wait(); err != nil {
		t.Fatalf("next run: %v", err)
	}
	state := c.State()
	if state.Status != model.StatusCompleted || state.TotalEpochs != 3 || len(state.LossHistory) != 3 {
		t.Fatalf("expected state owned by the new run, got %+v", state)
	}
	if pool.Live() != 0 {
		t.Fatalf("expected tensors released, %d live", pool.Live())
	}
}

func TestInvalidateResetsToIdle(t *testing.T) {
	pool := nn.NewTensorPool()
	c := NewController(pool)
	gate := make(chan struct{})
	entered := make(chan int, 10)
	sess := &fakeSession{generation: 1, gate: gate, entered: entered}

	run, err := c.Start(context.Background(), testDataset(t), sess, 10)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	c.Invalidate()
	close(gate)
	if err := run.Wait(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got: %v", err)
	}
	state := c.State()
	if state.Status != model.StatusIdle || len(state.LossHistory) != 0 || state.TrainingLocked {
		t.Fatalf("expected idle state, got %+v", state)
	}
	if c.Active() != nil {
		t.Fatal("expected no active run")
	}
	if pool.Live() != 0 {
		t.Fatalf("expected tensors released, %d live", pool.Live())
	}
}

func TestStaleSessionMidRunCancels(t *testing.T) {
	c := NewController(nil)
	sess := &staleAfter{fakeSession: fakeSession{generation: 1}, after: 2}
	run, err := c.Start(context.Background(), testDataset(t), sess, 5)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := run.Wait(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got: %v", err)
	}
	if got := run.Result().CompletedEpochs; got != 2 {
		t.Fatalf("expected 2 completed epochs, got %d", got)
	}
}

func TestHooksObserveEpochsAndFinish(t *testing.T) {
	var mu sync.Mutex
	var epochs []int
	finished := make(chan Result, 1)
	c := NewControllerWithHooks(nil, Hooks{
		OnEpoch: func(event model.EpochEvent) {
			mu.Lock()
			epochs = append(epochs, event.Epoch)
			mu.Unlock()
		},
		OnFinish: func(result Result) { finished <- result },
	})
	if _, err := c.Start(context.Background(), testDataset(t), &fakeSession{generation: 1}, 4); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case result := <-finished:
		if result.Status != model.StatusCompleted {
			t.Fatalf("unexpected result status %s", result.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for finish hook")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(epochs) != 4 {
		t.Fatalf("expected 4 epoch hooks, got %v", epochs)
	}
}

type staleAfter struct {
	fakeSession
	after int
}

func (s *staleAfter) TrainEpoch(x, y *mat.Dense) (float64, error) {
	if s.Calls() >= s.after {
		return 0, model.NewStaleSessionError(s.generation, s.generation+1)
	}
	return s.fakeSession.TrainEpoch(x, y)
}

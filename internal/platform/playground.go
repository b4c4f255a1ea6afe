package platform

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"playground/internal/dataset"
	"playground/internal/editor"
	"playground/internal/model"
	"playground/internal/nn"
	"playground/internal/render"
	"playground/internal/session"
	"playground/internal/storage"
	"playground/internal/training"
)

const (
	defaultSubscriberBuffer = 8
	defaultPersistRestarts  = 3
	runTaskPrefix           = "run/"
)

// ErrNotStarted is returned by operations on a playground before Init.
var ErrNotStarted = errors.New("playground is not initialized")

type Config struct {
	Store    storage.Store
	Seed     int64
	Settings Settings
	// Hidden is the initial hidden architecture; nil selects DefaultHidden.
	Hidden  []int
	Dataset dataset.Options
	// Builder constructs session models; nil selects session.NetworkBuilder.
	Builder session.Builder

	Width          float64
	Height         float64
	GridResolution int

	// Supervisor governs retries of the per-run consumer task when the run
	// record cannot be persisted.
	Supervisor       SupervisorPolicy
	SubscriberBuffer int
	Logf             func(format string, args ...any)
}

// Playground is the explicit session object tying the dataset store, the
// model session, the training controller and the renderer together. Every
// state change publishes a frame to subscribers.
type Playground struct {
	cfg      Config
	store    storage.Store
	pool     *nn.TensorPool
	datasets *dataset.Store
	sessions *session.Manager
	trainer  *training.Controller
	sync     *render.Synchronizer
	editor   *editor.Editor
	tasks    *Supervisor
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	started  bool
	closed   bool
	settings Settings
	handle   *session.Handle
	probe    *render.ProbePoint
	waiters  map[string]*runWaiter

	subMu       sync.Mutex
	subscribers map[int]chan render.Frame
	nextSub     int

	staleDropped atomic.Int64
	framesSent   atomic.Int64
}

type runWaiter struct {
	done chan struct{}
	once sync.Once
}

func (w *runWaiter) release() {
	w.once.Do(func() { close(w.done) })
}

// State is a serializable view of the playground.
type State struct {
	Settings          Settings               `json:"settings"`
	Dataset           model.Dataset          `json:"dataset"`
	Architecture      model.ArchitectureSpec `json:"architecture"`
	SessionGeneration uint64                 `json:"session_generation"`
	Visuals           []model.LayerVisual    `json:"visuals"`
	Training          model.TrainingState    `json:"training"`
	Probe             *render.ProbePoint     `json:"probe,omitempty"`
	StaleDropped      int64                  `json:"stale_dropped"`
	Tasks             []TaskStatus           `json:"tasks,omitempty"`
}

func New(cfg Config) *Playground {
	cfg.Settings = cfg.Settings.withDefaults()
	if cfg.Hidden == nil {
		cfg.Hidden = append([]int(nil), DefaultHidden...)
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.Supervisor.MaxRestarts == 0 {
		cfg.Supervisor.MaxRestarts = defaultPersistRestarts
	}

	sessionOptions := []session.Option{
		session.WithSeed(cfg.Seed),
		session.WithOptimizer(cfg.Settings.Optimizer),
	}
	if cfg.Builder != nil {
		sessionOptions = append(sessionOptions, session.WithBuilder(cfg.Builder))
	}

	pool := nn.NewTensorPool()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Playground{
		cfg:      cfg,
		store:    cfg.Store,
		pool:     pool,
		datasets: dataset.NewStore(cfg.Seed, dataset.WithOptions(cfg.Dataset)),
		sessions: session.NewManager(sessionOptions...),
		sync: &render.Synchronizer{
			Width:          cfg.Width,
			Height:         cfg.Height,
			GridResolution: cfg.GridResolution,
			Pool:           pool,
		},
		ctx:         ctx,
		cancel:      cancel,
		settings:    cfg.Settings,
		waiters:     make(map[string]*runWaiter),
		subscribers: make(map[int]chan render.Frame),
	}
	p.trainer = training.NewControllerWithHooks(pool, training.Hooks{
		OnEpoch: func(event model.EpochEvent) {
			p.logf("run=%s epoch=%d loss=%.6f", event.RunID, event.Epoch, event.Loss)
		},
	})
	p.editor = editor.New(model.NewArchitecture(cfg.Hidden...), p.trainer, p.rebuildLocked)
	p.tasks = NewSupervisorWithHooks(cfg.Supervisor, SupervisorHooks{
		OnTaskRestart: func(name string, err error, restarts int) {
			p.logf("task=%s restart=%d err=%v", name, restarts, err)
		},
		OnTaskPermanentFailure: func(name string, err error, restarts int) {
			p.logf("task=%s failed restarts=%d err=%v", name, restarts, err)
		},
		OnTaskExit: func(name string, _ error) {
			p.releaseWaiter(name)
		},
	})
	// a new dataset makes the current run meaningless
	p.datasets.OnChange(func(model.Dataset) {
		p.trainer.Invalidate()
	})
	return p
}

// Init prepares the store, generates the first dataset and builds the first
// model session. Calling Init on a started playground is a no-op.
func (p *Playground) Init(ctx context.Context) error {
	if p.store == nil {
		return errors.New("store is required")
	}
	if err := p.settings.Validate(); err != nil {
		return errors.Wrap(err, "settings")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("playground is closed")
	}
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return errors.Wrap(err, "init store")
	}
	if _, err := p.datasets.Regenerate(p.settings.Shape); err != nil {
		return err
	}
	if err := p.rebuildLocked(p.editor.Spec()); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Reset stops any run, clears persisted runs when the store supports it and
// initializes again.
func (p *Playground) Reset(ctx context.Context) error {
	p.shutdown()
	if _, err := storage.ResetIfSupported(ctx, p.store); err != nil {
		return errors.Wrap(err, "reset store")
	}
	return p.Init(ctx)
}

// Close stops every run and consumer, disposes the model and closes every
// subscription. The store is left open for its owner.
func (p *Playground) Close() {
	p.shutdown()
	p.mu.Lock()
	p.closed = true
	p.handle = nil
	p.mu.Unlock()
	p.cancel()
	p.sessions.Close()

	p.subMu.Lock()
	for id, ch := range p.subscribers {
		close(ch)
		delete(p.subscribers, id)
	}
	p.subMu.Unlock()
}

func (p *Playground) shutdown() {
	p.mu.Lock()
	p.trainer.Invalidate()
	p.started = false
	p.probe = nil
	p.mu.Unlock()
	p.tasks.StopAll()
}

func (p *Playground) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Playground) Settings() Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// RegenerateDataset replaces the dataset with a fresh one of shape. Rejected
// while training is locked; otherwise the training state returns to Idle.
func (p *Playground) RegenerateDataset(shape model.Shape) (model.Dataset, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return model.Dataset{}, ErrNotStarted
	}
	if p.trainer.TrainingLocked() {
		p.mu.Unlock()
		return model.Dataset{}, model.NewTrainingLockedError("regenerate dataset")
	}
	data, err := p.datasets.Regenerate(shape)
	if err != nil {
		p.mu.Unlock()
		return model.Dataset{}, err
	}
	p.settings.Shape = data.Shape
	p.probe = nil
	frame, ferr := p.renderLocked()
	p.mu.Unlock()
	p.publish(frame, ferr)
	return data, nil
}

// SetActivation rebuilds the session with a new hidden activation.
func (p *Playground) SetActivation(name string) error {
	return p.updateSettings("set activation", func(s *Settings) { s.Activation = name })
}

// SetLearningRate rebuilds the session with a new learning rate.
func (p *Playground) SetLearningRate(lr float64) error {
	return p.updateSettings("set learning rate", func(s *Settings) { s.LearningRate = lr })
}

// SetEpochs changes the default run length used when Train gets 0 epochs.
func (p *Playground) SetEpochs(epochs int) error {
	return p.updateSettings("set epochs", func(s *Settings) { s.Epochs = epochs })
}

// UpdateSettings applies every field of patch or none of them. The session
// is rebuilt at most once.
func (p *Playground) UpdateSettings(patch SettingsPatch) error {
	return p.updateSettings("update settings", patch.apply)
}

func (p *Playground) updateSettings(op string, mutate func(*Settings)) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.trainer.TrainingLocked() {
		p.mu.Unlock()
		return model.NewTrainingLockedError(op)
	}
	next := p.settings
	mutate(&next)
	if err := next.Validate(); err != nil {
		p.mu.Unlock()
		return err
	}
	prev := p.settings
	p.settings = next
	if next.Activation != prev.Activation || next.LearningRate != prev.LearningRate {
		if err := p.rebuildLocked(p.editor.Spec()); err != nil {
			p.settings = prev
			p.mu.Unlock()
			return err
		}
	}
	frame, ferr := p.renderLocked()
	p.mu.Unlock()
	p.publish(frame, ferr)
	return nil
}

func (p *Playground) AddLayer() (model.ArchitectureSpec, error) {
	return p.editArchitecture(p.editor.AddLayer)
}

func (p *Playground) RemoveLayer(index int) (model.ArchitectureSpec, error) {
	return p.editArchitecture(func() (model.ArchitectureSpec, error) { return p.editor.RemoveLayer(index) })
}

func (p *Playground) AddUnit(index int) (model.ArchitectureSpec, error) {
	return p.editArchitecture(func() (model.ArchitectureSpec, error) { return p.editor.AddUnit(index) })
}

func (p *Playground) RemoveUnit(index int) (model.ArchitectureSpec, error) {
	return p.editArchitecture(func() (model.ArchitectureSpec, error) { return p.editor.RemoveUnit(index) })
}

func (p *Playground) SetArchitecture(units []int) (model.ArchitectureSpec, error) {
	return p.editArchitecture(func() (model.ArchitectureSpec, error) { return p.editor.Set(units) })
}

func (p *Playground) Architecture() model.ArchitectureSpec {
	return p.editor.Spec()
}

func (p *Playground) editArchitecture(edit func() (model.ArchitectureSpec, error)) (model.ArchitectureSpec, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return model.ArchitectureSpec{}, ErrNotStarted
	}
	spec, err := edit()
	if err != nil {
		p.mu.Unlock()
		return model.ArchitectureSpec{}, err
	}
	frame, ferr := p.renderLocked()
	p.mu.Unlock()
	p.publish(frame, ferr)
	return spec, nil
}

// rebuildLocked swaps in a model for spec and resets the training state. It
// is the editor's apply step, so a failure rejects the edit. p.mu is held.
func (p *Playground) rebuildLocked(spec model.ArchitectureSpec) error {
	handle, err := p.sessions.Rebuild(spec, p.settings.Activation, p.settings.LearningRate)
	if err != nil {
		return err
	}
	p.handle = handle
	p.probe = nil
	p.trainer.Invalidate()
	return nil
}

// Train starts a run of epochs epochs, or the configured default when epochs
// is 0. ctx bounds only the call: the run lives until it completes, is
// stopped or superseded, or the playground closes.
func (p *Playground) Train(ctx context.Context, epochs int) (*training.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrNotStarted
	}
	if epochs == 0 {
		epochs = p.settings.Epochs
	}
	data := p.datasets.Current()
	run, err := p.trainer.Start(p.ctx, data, p.handle, epochs)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	record := model.RunRecord{
		VersionedRecord:   storage.CurrentVersion(),
		ID:                run.ID.String(),
		CreatedAt:         time.Now().UTC(),
		Shape:             data.Shape,
		Hidden:            p.handle.Architecture().Units(),
		Activation:        p.settings.Activation,
		Optimizer:         p.settings.Optimizer,
		LearningRate:      p.settings.LearningRate,
		TotalEpochs:       epochs,
		DatasetGeneration: data.Generation,
		SessionGeneration: run.SessionGeneration,
	}
	waiter := &runWaiter{done: make(chan struct{})}
	p.waiters[record.ID] = waiter
	spec := TaskSpec{Name: runTaskPrefix + record.ID, Restart: RestartTransient}
	if err := p.tasks.StartSpec(spec, func(ctx context.Context) error {
		return p.consume(ctx, run, record)
	}); err != nil {
		delete(p.waiters, record.ID)
		p.trainer.Invalidate()
		p.mu.Unlock()
		return nil, errors.Wrap(err, "start run consumer")
	}
	frame, ferr := p.renderLocked()
	p.mu.Unlock()
	p.publish(frame, ferr)
	p.logf("run=%s started epochs=%d session=%d dataset=%d", record.ID, epochs, record.SessionGeneration, record.DatasetGeneration)
	return run, nil
}

// Stop aborts the running run, keeping its partial loss history. It reports
// whether a run was running.
func (p *Playground) Stop() bool {
	p.mu.Lock()
	stopped := p.trainer.Stop()
	if !stopped {
		p.mu.Unlock()
		return false
	}
	frame, ferr := p.renderLocked()
	p.mu.Unlock()
	p.publish(frame, ferr)
	return true
}

// WaitRun blocks until the run's events are consumed and its record is
// persisted or the consumer gave up, then returns the stored record.
func (p *Playground) WaitRun(ctx context.Context, runID string) (model.RunRecord, error) {
	p.mu.Lock()
	waiter, ok := p.waiters[runID]
	p.mu.Unlock()
	if ok {
		select {
		case <-waiter.done:
		case <-ctx.Done():
			return model.RunRecord{}, ctx.Err()
		}
	}
	record, found, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !found {
		return model.RunRecord{}, errors.Errorf("run not found: %s", runID)
	}
	return record, nil
}

// Predict probes the model at (x, y). The probe is drawn on the data plane
// and the network plane shows that point's activations.
func (p *Playground) Predict(x, y float64) (float64, error) {
	if !nn.Finite(x) || !nn.Finite(y) {
		return 0, model.NewPreconditionError("probe coordinates must be finite")
	}
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return 0, ErrNotStarted
	}
	prob, err := p.handle.Probe(x, y)
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	p.probe = &render.ProbePoint{X: x, Y: y, Probability: prob}
	frame, ferr := p.renderLocked()
	p.mu.Unlock()
	p.publish(frame, ferr)
	return prob, nil
}

// Snapshot returns what a redraw would read right now.
func (p *Playground) Snapshot() render.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Playground) snapshotLocked() render.Snapshot {
	snap := render.Snapshot{
		Dataset:      p.datasets.Current(),
		Architecture: p.editor.Spec(),
		Training:     p.trainer.State(),
	}
	if p.handle != nil {
		snap.Session = p.handle
		snap.Visuals = p.handle.Visuals()
	}
	if p.probe != nil {
		probe := *p.probe
		snap.Probe = &probe
	}
	return snap
}

func (p *Playground) State() State {
	p.mu.Lock()
	snap := p.snapshotLocked()
	settings := p.settings
	p.mu.Unlock()

	out := State{
		Settings:     settings,
		Dataset:      snap.Dataset,
		Architecture: snap.Architecture,
		Visuals:      snap.Visuals,
		Training:     snap.Training,
		Probe:        snap.Probe,
		StaleDropped: p.staleDropped.Load(),
		Tasks:        p.tasks.Children(),
	}
	if snap.Session != nil {
		out.SessionGeneration = snap.Session.Generation()
	}
	return out
}

// Frame renders the current state without publishing it.
func (p *Playground) Frame() (render.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renderLocked()
}

func (p *Playground) renderLocked() (render.Frame, error) {
	return p.sync.Frame(p.snapshotLocked())
}

// Synchronizer exposes the renderer for callers drawing to their own canvas.
func (p *Playground) Synchronizer() *render.Synchronizer {
	return p.sync
}

// Runs lists persisted runs, newest first.
func (p *Playground) Runs(ctx context.Context, limit int) ([]model.RunRecord, error) {
	return p.store.ListRuns(ctx, limit)
}

func (p *Playground) Run(ctx context.Context, runID string) (model.RunRecord, bool, error) {
	return p.store.GetRun(ctx, runID)
}

func (p *Playground) LossHistory(ctx context.Context, runID string) ([]float64, bool, error) {
	return p.store.GetLossHistory(ctx, runID)
}

// StaleDropped counts epoch events discarded because their session had been
// superseded by the time they were consumed.
func (p *Playground) StaleDropped() int64 {
	return p.staleDropped.Load()
}

// FramesPublished counts frames handed to subscribers, dropped ones included.
func (p *Playground) FramesPublished() int64 {
	return p.framesSent.Load()
}

// LiveSessions reports undisposed models; at most one outside a rebuild.
func (p *Playground) LiveSessions() int {
	return p.sessions.Live()
}

// LiveTensors reports pooled tensors currently acquired.
func (p *Playground) LiveTensors() int {
	return p.pool.Live()
}

func (p *Playground) logf(format string, args ...any) {
	if p.cfg.Logf != nil {
		p.cfg.Logf(format, args...)
	}
}

func (p *Playground) releaseWaiter(taskName string) {
	if len(taskName) <= len(runTaskPrefix) || taskName[:len(runTaskPrefix)] != runTaskPrefix {
		return
	}
	runID := taskName[len(runTaskPrefix):]
	p.mu.Lock()
	waiter, ok := p.waiters[runID]
	delete(p.waiters, runID)
	p.mu.Unlock()
	if ok {
		waiter.release()
	}
}

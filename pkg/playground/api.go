package playground

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"playground/internal/dataset"
	"playground/internal/model"
	"playground/internal/platform"
	"playground/internal/render"
	"playground/internal/server"
	"playground/internal/stats"
	"playground/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "playground.db"
	defaultRunsLimit    = 20
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	// Logf receives one line per playground event; nil discards them.
	Logf func(format string, args ...any)
}

// Client drives playgrounds over one store. Train builds a headless
// playground per request; Init, Reset and Server share a long-lived one.
type Client struct {
	store      storage.Store
	playground *platform.Playground
	logf       func(format string, args ...any)

	artifactsDir string
	exportsDir   string
}

type TrainRequest struct {
	Shape        string
	Hidden       []int
	Activation   string
	LearningRate float64
	Optimizer    string
	Epochs       int
	Seed         int64
	NumPoints    int
	Noise        float64
	// GridResolution sets the decision-boundary resolution of the rendered
	// data plane; 0 selects the renderer default.
	GridResolution int
}

type RunSummary struct {
	RunID           string
	ArtifactsDir    string
	Shape           string
	Hidden          []int
	Status          model.TrainingStatus
	CompletedEpochs int
	TotalEpochs     int
	FinalLoss       float64
	Diverged        bool
	LossHistory     []float64
	Elapsed         time.Duration
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string               `json:"run_id"`
	CreatedAtUTC string               `json:"created_at_utc"`
	Shape        string               `json:"shape"`
	Hidden       []int                `json:"hidden"`
	Activation   string               `json:"activation"`
	LearningRate float64              `json:"learning_rate"`
	Epochs       int                  `json:"epochs"`
	Status       model.TrainingStatus `json:"status"`
	FinalLoss    float64              `json:"final_loss"`
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type LossHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logf:         opts.Logf,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	if c.playground != nil {
		c.playground.Close()
		c.playground = nil
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePlayground(ctx)
	return err
}

// Reset clears persisted runs and starts the shared playground afresh.
// On-disk artifacts are kept.
func (c *Client) Reset(ctx context.Context) error {
	p, err := c.ensurePlayground(ctx)
	if err != nil {
		return err
	}
	return p.Reset(ctx)
}

// Server exposes the shared playground over HTTP.
func (c *Client) Server(ctx context.Context, opts server.Options) (*server.Server, error) {
	p, err := c.ensurePlayground(ctx)
	if err != nil {
		return nil, err
	}
	return server.New(p, opts), nil
}

// Train runs one training session to completion on a fresh playground and
// writes its record, loss series and rendered planes under the artifacts
// directory.
func (c *Client) Train(ctx context.Context, req TrainRequest) (RunSummary, error) {
	started := time.Now()
	var shape model.Shape
	if req.Shape != "" {
		parsed, err := model.ParseShape(req.Shape)
		if err != nil {
			return RunSummary{}, err
		}
		shape = parsed
	}
	settings := platform.Settings{
		Shape:        shape,
		Activation:   req.Activation,
		LearningRate: req.LearningRate,
		Optimizer:    req.Optimizer,
		Epochs:       req.Epochs,
	}
	if req.Epochs < 0 {
		return RunSummary{}, errors.Errorf("epochs must be >= 0 (got %d)", req.Epochs)
	}

	p := platform.New(platform.Config{
		Store:          c.store,
		Seed:           req.Seed,
		Settings:       settings,
		Hidden:         req.Hidden,
		Dataset:        dataset.Options{NumPoints: req.NumPoints, Noise: req.Noise},
		GridResolution: req.GridResolution,
		Logf:           c.logf,
	})
	defer p.Close()
	if err := p.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	run, err := p.Train(ctx, 0)
	if err != nil {
		return RunSummary{}, err
	}
	record, err := p.WaitRun(ctx, run.ID.String())
	if err != nil {
		return RunSummary{}, err
	}
	history, _, err := p.LossHistory(ctx, record.ID)
	if err != nil {
		return RunSummary{}, err
	}

	planes, err := renderPlanes(p)
	if err != nil {
		return RunSummary{}, err
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Record:      record,
		LossHistory: history,
		Planes:      planes,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(record)); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:           record.ID,
		ArtifactsDir:    filepath.Clean(runDir),
		Shape:           string(record.Shape),
		Hidden:          append([]int(nil), record.Hidden...),
		Status:          record.Status,
		CompletedEpochs: record.CompletedEpochs,
		TotalEpochs:     record.TotalEpochs,
		FinalLoss:       record.FinalLoss,
		Diverged:        record.Diverged,
		LossHistory:     append([]float64(nil), history...),
		Elapsed:         time.Since(started),
	}, nil
}

func renderPlanes(p *platform.Playground) (map[string][]byte, error) {
	sync := p.Synchronizer()
	snap := p.Snapshot()

	data := render.NewSVGCanvas(sync.Width, sync.Height)
	if err := sync.DataPlane(data, snap); err != nil {
		return nil, errors.Wrap(err, "render data plane")
	}
	network := render.NewSVGCanvas(sync.Width, sync.Height)
	if err := sync.NetworkPlane(network, snap); err != nil {
		return nil, errors.Wrap(err, "render network plane")
	}
	loss := render.NewSVGCanvas(sync.Width, sync.Height)
	sync.LossCurve(loss, snap.Training.LossHistory)

	return map[string][]byte{
		"data.svg":    data.Bytes(),
		"network.svg": network.Bytes(),
		"loss.svg":    loss.Bytes(),
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Shape:        string(e.Shape),
			Hidden:       append([]int(nil), e.Hidden...),
			Activation:   e.Activation,
			LearningRate: e.LearningRate,
			Epochs:       e.Epochs,
			Status:       e.Status,
			FinalLoss:    e.FinalLoss,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// LossHistory returns a run's per-epoch losses from the store, falling back
// to the run's on-disk loss series.
func (c *Client) LossHistory(ctx context.Context, req LossHistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "loss history")
	if err != nil {
		return nil, err
	}

	if err := c.store.Init(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetLossHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		history, ok, err = stats.ReadLossSeries(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, errors.Errorf("loss history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.Errorf("%s requires run id or latest", op)
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensurePlayground(ctx context.Context) (*platform.Playground, error) {
	if c.playground != nil {
		return c.playground, nil
	}
	p := platform.New(platform.Config{Store: c.store, Logf: c.logf})
	if err := p.Init(ctx); err != nil {
		p.Close()
		return nil, err
	}
	c.playground = p
	return c.playground, nil
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"playground/internal/dataset"
	"playground/internal/model"
	"playground/internal/nn"
	"playground/internal/platform"
	"playground/internal/server"
	"playground/internal/stats"
	"playground/internal/storage"
	playapi "playground/pkg/playground"
)

const (
	artifactsDir  = "runs"
	exportsDir    = "exports"
	defaultDBPath = "playground.db"

	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "losses":
		return runLosses(ctx, args[1:])
	case "compare":
		return runCompare(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "catalog":
		return runCatalog(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newClient(storeKind, dbPath string, verbose bool) (*playapi.Client, error) {
	opts := playapi.Options{
		StoreKind:    storeKind,
		DBPath:       dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
	}
	if verbose {
		opts.Logf = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
	return playapi.New(opts)
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	def := platform.DefaultSettings()
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional train config JSON path")
	shape := fs.String("shape", string(def.Shape), "dataset shape: "+shapeNames())
	hidden := fs.String("hidden", joinInts(platform.DefaultHidden), "comma separated hidden layer widths, or none")
	activation := fs.String("activation", def.Activation, "hidden activation: "+strings.Join(platform.HiddenActivations, "|"))
	learningRate := fs.Float64("lr", def.LearningRate, "learning rate")
	optimizer := fs.String("optimizer", def.Optimizer, "optimizer: "+strings.Join(nn.ListOptimizers(), "|"))
	epochs := fs.Int("epochs", def.Epochs, "epoch count")
	seed := fs.Int64("seed", 1, "rng seed")
	numPoints := fs.Int("points", dataset.DefaultNumPoints, "dataset point count")
	noise := fs.Float64("noise", dataset.DefaultNoise, "dataset jitter scale, negative for none")
	grid := fs.Int("grid", 0, "decision boundary grid resolution (0 uses renderer default)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	verbose := fs.Bool("v", false, "log run events to stderr")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadOrDefaultTrainRequest(*configPath)
	if err != nil {
		return err
	}
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	if *configPath == "" {
		// without a config every flag contributes its default
		fs.VisitAll(func(f *flag.Flag) {
			setFlags[f.Name] = true
		})
	}
	if err := overrideFromFlags(&req, setFlags, map[string]any{
		"shape":      *shape,
		"hidden":     *hidden,
		"activation": *activation,
		"lr":         *learningRate,
		"optimizer":  *optimizer,
		"epochs":     *epochs,
		"seed":       *seed,
		"points":     *numPoints,
		"noise":      *noise,
		"grid":       *grid,
	}); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summaryJSON(summary))
	}

	color := colorEnabled()
	fmt.Printf("run completed run_id=%s shape=%s hidden=%s epochs=%s/%s seed=%d\n",
		summary.RunID, summary.Shape, joinInts(summary.Hidden), humanize.Comma(int64(summary.CompletedEpochs)),
		humanize.Comma(int64(summary.TotalEpochs)), req.Seed)
	fmt.Printf("status=%s final_loss=%s diverged=%t elapsed=%s\n",
		statusLabel(summary.Status, color), formatLoss(summary.FinalLoss), summary.Diverged, summary.Elapsed.Round(time.Millisecond))
	fmt.Printf("artifacts_dir=%s size=%s\n", filepath.Clean(summary.ArtifactsDir), humanize.Bytes(dirSize(summary.ArtifactsDir)))
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient(storage.KindMemory, "", false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, playapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		return writeJSON(runs)
	}

	color := colorEnabled()
	for _, item := range runs {
		created := item.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, item.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		fmt.Printf("run_id=%s created=%q shape=%s hidden=%s activation=%s lr=%g epochs=%s status=%s final_loss=%s\n",
			item.RunID, created, item.Shape, joinInts(item.Hidden), item.Activation, item.LearningRate,
			humanize.Comma(int64(item.Epochs)), statusLabel(item.Status, color), formatLoss(item.FinalLoss))
	}
	return nil
}

func runLosses(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("losses", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show loss history for the most recent run from run index")
	limit := fs.Int("limit", 50, "max epochs to print (<=0 for all)")
	smooth := fs.Int("smooth", 1, "trailing moving average window")
	jsonOut := fs.Bool("json", false, "emit loss history as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("losses requires --run-id or --latest")
	}
	if *limit < 0 {
		*limit = 0
	}

	client, err := newClient(*storeKind, *dbPath, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.LossHistory(ctx, playapi.LossHistoryRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Println("no loss history")
		return nil
	}
	if *jsonOut {
		return writeJSON(model.LossHistory(history))
	}

	if *smooth > 1 {
		for _, point := range stats.MovingAverage(history, *smooth) {
			fmt.Printf("epoch=%d loss=%.6f\n", point.Epoch, point.Value)
		}
	} else {
		for i, loss := range history {
			fmt.Printf("epoch=%d loss=%s\n", i+1, formatLoss(loss))
		}
	}
	summary := stats.SummarizeLoss(history)
	fmt.Printf("summary epochs=%d min=%.6f min_epoch=%d mean=%.6f std=%.6f diverged=%t\n",
		summary.Epochs, summary.Min, summary.MinEpoch, summary.Mean, summary.Std, summary.Diverged)
	return nil
}

// runCompare averages the loss curves of the most recent runs epoch by epoch.
func runCompare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	latest := fs.Int("latest", 3, "number of most recent runs to average")
	points := fs.Int("points", 20, "max curve samples to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *latest <= 0 {
		return errors.New("latest must be > 0")
	}

	client, err := newClient(storage.KindMemory, "", false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, playapi.RunsRequest{Limit: *latest})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return errors.New("no runs available to compare")
	}
	histories := make([][]float64, 0, len(runs))
	for _, item := range runs {
		history, err := client.LossHistory(ctx, playapi.LossHistoryRequest{RunID: item.RunID})
		if err != nil {
			return err
		}
		histories = append(histories, history)
		fmt.Printf("run_id=%s epochs=%d final_loss=%s\n", item.RunID, len(history), formatLoss(item.FinalLoss))
	}

	curve := stats.BuildAverageLossPlot(histories)
	step := 1
	if *points > 0 && len(curve) > *points {
		step = (len(curve) + *points - 1) / *points
	}
	for i := 0; i < len(curve); i += step {
		fmt.Printf("epoch=%d mean_loss=%.6f\n", curve[i].Epoch, curve[i].Value)
	}
	if n := len(curve); n > 0 && (n-1)%step != 0 {
		fmt.Printf("epoch=%d mean_loss=%.6f\n", curve[n-1].Epoch, curve[n-1].Value)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := newClient(storage.KindMemory, "", false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, playapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s size=%s\n", exported.RunID, exported.Directory, humanize.Bytes(dirSize(exported.Directory)))
	return nil
}

// runCatalog lists the registered shapes, activations and optimizers.
func runCatalog(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Printf("shapes=%s\n", shapeNames())
	fmt.Printf("activations=%s\n", strings.Join(platform.HiddenActivations, ","))
	fmt.Printf("optimizers=%s\n", strings.Join(nn.ListOptimizers(), ","))
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	requestLog := fs.Bool("request-log", true, "log every HTTP request")
	allowOrigins := fs.String("allow-origins", "", "CORS allowed origins (empty allows any)")
	verbose := fs.Bool("v", false, "log run events to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	srv, err := client.Server(ctx, server.Options{RequestLog: *requestLog, AllowOrigins: *allowOrigins})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.Listen(*addr)
	}()
	fmt.Printf("serving addr=%s store=%s\n", *addr, *storeKind)

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	fmt.Println("server stopped")
	return nil
}

type runSummaryJSON struct {
	RunID           string            `json:"run_id"`
	ArtifactsDir    string            `json:"artifacts_dir"`
	Status          string            `json:"status"`
	CompletedEpochs int               `json:"completed_epochs"`
	TotalEpochs     int               `json:"total_epochs"`
	FinalLoss       float64           `json:"final_loss"`
	Diverged        bool              `json:"diverged"`
	LossHistory     model.LossHistory `json:"loss_history"`
	ElapsedMS       int64             `json:"elapsed_ms"`
}

func summaryJSON(s playapi.RunSummary) runSummaryJSON {
	return runSummaryJSON{
		RunID:           s.RunID,
		ArtifactsDir:    filepath.Clean(s.ArtifactsDir),
		Status:          string(s.Status),
		CompletedEpochs: s.CompletedEpochs,
		TotalEpochs:     s.TotalEpochs,
		FinalLoss:       s.FinalLoss,
		Diverged:        s.Diverged,
		LossHistory:     s.LossHistory,
		ElapsedMS:       s.Elapsed.Milliseconds(),
	}
}

func writeJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func formatLoss(loss float64) string {
	if !nn.Finite(loss) {
		return "nan"
	}
	return fmt.Sprintf("%.6f", loss)
}

func shapeNames() string {
	shapes := model.Shapes()
	names := make([]string, 0, len(shapes))
	for _, shape := range shapes {
		names = append(names, string(shape))
	}
	return strings.Join(names, "|")
}

func dirSize(dir string) uint64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total uint64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() {
			continue
		}
		total += uint64(info.Size())
	}
	return total
}

func usageError(msg string) error {
	return errors.Errorf("%s\nusage: playgroundctl <init|reset|train|runs|losses|compare|export|catalog|serve> [flags]", msg)
}

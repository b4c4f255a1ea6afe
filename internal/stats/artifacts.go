package stats

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"playground/internal/model"
)

const (
	runIndexFile   = "run_index.json"
	runConfigFile  = "run.json"
	lossFile       = "loss_history.json"
	lossSeriesFile = "loss_series.csv"
	summaryFile    = "loss_summary.json"
)

// RunArtifacts is everything written to disk for one finished run. Planes
// maps a file name such as "data.svg" to its rendered document.
type RunArtifacts struct {
	Record      model.RunRecord   `json:"record"`
	LossHistory model.LossHistory `json:"loss_history"`
	Planes      map[string][]byte `json:"-"`
}

type RunIndexEntry struct {
	RunID        string               `json:"run_id"`
	Shape        model.Shape          `json:"shape"`
	Hidden       []int                `json:"hidden"`
	Activation   string               `json:"activation"`
	LearningRate float64              `json:"learning_rate"`
	Epochs       int                  `json:"epochs"`
	Status       model.TrainingStatus `json:"status"`
	FinalLoss    float64              `json:"final_loss"`
	CreatedAtUTC string               `json:"created_at_utc"`
}

func IndexEntry(record model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:        record.ID,
		Shape:        record.Shape,
		Hidden:       append([]int(nil), record.Hidden...),
		Activation:   record.Activation,
		LearningRate: record.LearningRate,
		Epochs:       record.CompletedEpochs,
		Status:       record.Status,
		FinalLoss:    record.FinalLoss,
		CreatedAtUTC: record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z"),
	}
}

// WriteRunArtifacts writes the run under baseDir/<run id> and returns that
// directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Record.ID == "" {
		return "", errors.New("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Record.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	if err := writeJSON(filepath.Join(runDir, runConfigFile), artifacts.Record); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, lossFile), artifacts.LossHistory); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), SummarizeLoss(artifacts.LossHistory)); err != nil {
		return "", err
	}
	if err := writeLossSeries(filepath.Join(runDir, lossSeriesFile), artifacts.LossHistory); err != nil {
		return "", err
	}

	names := make([]string, 0, len(artifacts.Planes))
	for name := range artifacts.Planes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if filepath.Base(name) != name {
			return "", errors.Errorf("invalid plane file name: %s", name)
		}
		if err := os.WriteFile(filepath.Join(runDir, name), artifacts.Planes[name], 0o644); err != nil {
			return "", errors.WithStack(err)
		}
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return errors.New("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return errors.WithStack(err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, errors.WithStack(err)
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "decode run index")
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

func ReadRunRecord(baseDir, runID string) (model.RunRecord, bool, error) {
	var record model.RunRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, runConfigFile), &record)
	return record, ok, err
}

// ReadLossSeries reads the CSV loss series of a run. Non-finite losses are
// stored as NaN.
func ReadLossSeries(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, lossSeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.WithStack(err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, false, errors.Wrap(err, "read loss series")
	}
	series := make([]float64, 0, len(records))
	for i, record := range records {
		if i == 0 {
			continue
		}
		if len(record) != 2 {
			return nil, false, errors.Errorf("loss series row %d has %d fields", i, len(record))
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, errors.Wrapf(err, "loss series row %d", i)
		}
		series = append(series, value)
	}
	return series, true, nil
}

// ExportRunArtifacts copies every file of a run directory to outDir/<run id>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", errors.New("run id is required")
	}
	src := filepath.Join(baseDir, runID)
	entries, err := os.ReadDir(src)
	if err != nil {
		return "", errors.WithStack(err)
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func writeLossSeries(path string, history []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"epoch", "loss"}); err != nil {
		return errors.WithStack(err)
	}
	for i, loss := range history {
		row := []string{strconv.Itoa(i + 1), strconv.FormatFloat(loss, 'g', -1, 64)}
		if err := writer.Write(row); err != nil {
			return errors.WithStack(err)
		}
	}
	writer.Flush()
	return errors.WithStack(writer.Error())
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	data = append(data, '\n')
	return errors.WithStack(os.WriteFile(path, data, 0o644))
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WithStack(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, errors.Wrapf(err, "decode %s", filepath.Base(path))
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(out.Sync())
}

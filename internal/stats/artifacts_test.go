package stats

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"playground/internal/model"
)

func testRecord(id string, created time.Time) model.RunRecord {
	return model.RunRecord{
		ID:              id,
		CreatedAt:       created,
		Shape:           model.ShapeSpiral,
		Hidden:          []int{4, 2},
		Activation:      "tanh",
		LearningRate:    0.03,
		TotalEpochs:     3,
		CompletedEpochs: 3,
		Status:          model.StatusAborted,
		FinalLoss:       0.4,
		Diverged:        true,
	}
}

func TestWriteRunArtifactsRoundTrip(t *testing.T) {
	base := t.TempDir()
	record := testRecord("run-a", time.Unix(100, 0))
	dir, err := WriteRunArtifacts(base, RunArtifacts{
		Record:      record,
		LossHistory: model.LossHistory{0.6, 0.4, math.NaN()},
		Planes:      map[string][]byte{"data.svg": []byte("<svg/>")},
	})
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if dir != filepath.Join(base, "run-a") {
		t.Fatalf("unexpected run dir %s", dir)
	}
	got, ok, err := ReadRunRecord(base, "run-a")
	if err != nil || !ok {
		t.Fatalf("read record: ok=%t err=%v", ok, err)
	}
	if got.ID != record.ID || got.Shape != record.Shape || len(got.Hidden) != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	series, ok, err := ReadLossSeries(base, "run-a")
	if err != nil || !ok {
		t.Fatalf("read series: ok=%t err=%v", ok, err)
	}
	if len(series) != 3 || series[1] != 0.4 || !math.IsNaN(series[2]) {
		t.Fatalf("unexpected series: %v", series)
	}
	if _, err := os.Stat(filepath.Join(dir, "data.svg")); err != nil {
		t.Fatalf("expected plane file: %v", err)
	}
	if _, ok, err := ReadLossSeries(base, "missing"); ok || err != nil {
		t.Fatalf("expected missing run to report not found, ok=%t err=%v", ok, err)
	}
}

func TestWriteRunArtifactsRejectsBadInput(t *testing.T) {
	base := t.TempDir()
	if _, err := WriteRunArtifacts(base, RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id to fail")
	}
	_, err := WriteRunArtifacts(base, RunArtifacts{
		Record: testRecord("run-b", time.Now()),
		Planes: map[string][]byte{"../escape.svg": nil},
	})
	if err == nil {
		t.Fatal("expected plane path outside the run dir to fail")
	}
}

func TestRunIndexNewestFirstAndReplaces(t *testing.T) {
	base := t.TempDir()
	older := IndexEntry(testRecord("old", time.Unix(10, 0)))
	newer := IndexEntry(testRecord("new", time.Unix(20, 0)))
	for _, entry := range []RunIndexEntry{older, newer} {
		if err := AppendRunIndex(base, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	older.FinalLoss = 0.1
	if err := AppendRunIndex(base, older); err != nil {
		t.Fatalf("replace: %v", err)
	}
	index, err := ListRunIndex(base)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 2 || index[0].RunID != "new" || index[1].FinalLoss != 0.1 {
		t.Fatalf("unexpected index: %+v", index)
	}
	if err := AppendRunIndex(base, RunIndexEntry{}); err == nil {
		t.Fatal("expected empty run id to fail")
	}
}

func TestExportRunArtifactsCopiesRunDir(t *testing.T) {
	base, out := t.TempDir(), t.TempDir()
	if _, err := WriteRunArtifacts(base, RunArtifacts{Record: testRecord("run-c", time.Now()), LossHistory: model.LossHistory{0.2}}); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	dst, err := ExportRunArtifacts(base, "run-c", out)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	series, ok, err := ReadLossSeries(out, "run-c")
	if err != nil || !ok || len(series) != 1 {
		t.Fatalf("expected exported series in %s: ok=%t err=%v", dst, ok, err)
	}
	if _, err := ExportRunArtifacts(base, "absent", out); err == nil {
		t.Fatal("expected missing run to fail")
	}
}

//go:build sqlite

package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStoreRunAndLossRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "playground.db"))
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	for i, id := range []string{"a", "b", "c"} {
		if err := store.SaveRun(ctx, testRun(id, time.Unix(int64(100+i), 0))); err != nil {
			t.Fatalf("save run %s: %v", id, err)
		}
	}
	run, ok, err := store.GetRun(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if len(run.Hidden) != 2 || run.LearningRate != 0.03 {
		t.Fatalf("unexpected run: %+v", run)
	}
	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected list: %+v", runs)
	}

	if err := store.SaveLossHistory(ctx, "c", []float64{0.9, math.NaN()}); err != nil {
		t.Fatalf("save losses: %v", err)
	}
	history, ok, err := store.GetLossHistory(ctx, "c")
	if err != nil || !ok {
		t.Fatalf("get losses: ok=%t err=%v", ok, err)
	}
	if len(history) != 2 || history[0] != 0.9 || !math.IsNaN(history[1]) {
		t.Fatalf("unexpected losses: %v", history)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "playground.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init first: %v", err)
	}
	if err := first.SaveRun(ctx, testRun("run-1", time.Unix(1, 0))); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("init second: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})
	if _, ok, err := second.GetRun(ctx, "run-1"); err != nil || !ok {
		t.Fatalf("expected run after reopen: ok=%t err=%v", ok, err)
	}

	if err := second.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := second.GetRun(ctx, "run-1"); ok {
		t.Fatal("expected run removed by reset")
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "playground.db"))
	if _, _, err := store.GetRun(context.Background(), "x"); err == nil {
		t.Fatal("expected uninitialized store error")
	}
}

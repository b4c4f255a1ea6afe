package storage

import (
	"context"

	"playground/internal/model"
)

// Store persists run metadata and loss histories. Trained weights are never
// stored.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns the newest runs first; limit <= 0 returns all.
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	SaveLossHistory(ctx context.Context, runID string, history []float64) error
	GetLossHistory(ctx context.Context, runID string) ([]float64, bool, error)
}

// Resetter is implemented by stores that can drop every persisted record.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ResetIfSupported clears store when it implements Resetter.
func ResetIfSupported(ctx context.Context, store Store) (bool, error) {
	resetter, ok := store.(Resetter)
	if !ok {
		return false, nil
	}
	return true, resetter.Reset(ctx)
}

package storage

import (
	"context"

	"dnfit/internal/model"
)

// Store defines persistence operations for fitted parameter sets and their
// cost histories.
type Store interface {
	Init(ctx context.Context) error
	SaveFit(ctx context.Context, fit model.FitRecord) error
	GetFit(ctx context.Context, id string) (model.FitRecord, bool, error)
	// ListFits returns every stored fit ordered by creation time, then id.
	ListFits(ctx context.Context) ([]model.FitRecord, error)
	// DeleteFit removes a fit and its cost history and reports whether the
	// fit existed.
	DeleteFit(ctx context.Context, id string) (bool, error)
	SaveCostHistory(ctx context.Context, runID string, history []float64) error
	GetCostHistory(ctx context.Context, runID string) ([]float64, bool, error)
}

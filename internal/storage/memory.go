package storage

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"

	"dnfit/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	fits        map[string]model.FitRecord
	history     map[string][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.fits = make(map[string]model.FitRecord)
	s.history = make(map[string][]float64)
	return nil
}

func (s *MemoryStore) SaveFit(_ context.Context, fit model.FitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.fits[fit.ID] = cloneFit(fit)
	return nil
}

func (s *MemoryStore) GetFit(_ context.Context, id string) (model.FitRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.FitRecord{}, false, errNotInitialized
	}
	fit, ok := s.fits[id]
	if !ok {
		return model.FitRecord{}, false, nil
	}
	return cloneFit(fit), true, nil
}

func (s *MemoryStore) ListFits(_ context.Context) ([]model.FitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	out := make([]model.FitRecord, 0, len(s.fits))
	for _, fit := range s.fits {
		out = append(out, cloneFit(fit))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUTC != out[j].CreatedAtUTC {
			return out[i].CreatedAtUTC < out[j].CreatedAtUTC
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeleteFit(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false, errNotInitialized
	}
	_, ok := s.fits[id]
	delete(s.fits, id)
	delete(s.history, id)
	return ok, nil
}

func (s *MemoryStore) SaveCostHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	copied := append([]float64(nil), history...)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetCostHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, false, errNotInitialized
	}
	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := append([]float64(nil), history...)
	return copied, true, nil
}

func cloneFit(f model.FitRecord) model.FitRecord {
	out := f
	out.Params = maps.Clone(f.Params)
	out.Bounds = append([]model.ParamSpec(nil), f.Bounds...)
	return out
}

package db

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/service"
)

// MemoryRepository keeps every table in process memory. Filters are run by
// the query evaluator.
type MemoryRepository struct {
	mu     sync.RWMutex
	tables map[string]map[string]*models.Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tables: make(map[string]map[string]*models.Record)}
}

func (r *MemoryRepository) Read(_ context.Context, table, id string) (*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.tables[table][id]
	if !ok {
		return nil, service.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemoryRepository) Create(_ context.Context, table string, rec *models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tables[table]
	if !ok {
		t = make(map[string]*models.Record)
		r.tables[table] = t
	}
	if _, exists := t[rec.ID]; exists {
		return service.ErrAlreadyExists
	}
	t[rec.ID] = rec.Clone()
	return nil
}

func (r *MemoryRepository) Replace(_ context.Context, table string, rec *models.Record, expected models.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tables[table][rec.ID]
	if !ok {
		return service.ErrNotFound
	}
	if !expected.IsZero() && !expected.Equal(cur.Version) {
		return service.ErrVersionMismatch
	}
	r.tables[table][rec.ID] = rec.Clone()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, table, id string, expected models.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.tables[table][id]
	if !ok {
		return service.ErrNotFound
	}
	if !expected.IsZero() && !expected.Equal(cur.Version) {
		return service.ErrVersionMismatch
	}
	delete(r.tables[table], id)
	return nil
}

func (r *MemoryRepository) List(_ context.Context, table string, opts service.ListOptions) ([]*models.Record, int64, error) {
	r.mu.RLock()
	var matched []*models.Record
	for _, rec := range r.tables[table] {
		ok, err := query.Matches(opts.Filter, rec)
		if err != nil {
			r.mu.RUnlock()
			return nil, 0, fmt.Errorf("%w: %v", service.ErrInvalidQuery, err)
		}
		if ok {
			matched = append(matched, rec.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *models.Record) int {
		return query.CompareOrdering(a, b, opts.Ordering)
	})

	total := int64(len(matched))
	start := min(opts.Skip, len(matched))
	end := len(matched)
	if opts.Top > 0 {
		end = min(start+opts.Top, end)
	}
	return matched[start:end], total, nil
}

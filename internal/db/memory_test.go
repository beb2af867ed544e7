package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/query/ast"
	"github.com/Guizzs26/go-datasync/internal/service"
)

func seed(t *testing.T, repo *MemoryRepository, recs ...*models.Record) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, repo.Create(context.Background(), "todos", r))
	}
}

func rec(id string, at time.Time, data map[string]any) *models.Record {
	return &models.Record{ID: id, UpdatedAt: at, Version: models.NewVersion(), Data: data}
}

func TestMemoryRepositoryConditionalWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := rec("a", base, map[string]any{"title": "one"})
	seed(t, repo, r)

	assert.ErrorIs(t, repo.Create(ctx, "todos", r), service.ErrAlreadyExists)

	next := r.Clone()
	next.Version = models.NewVersion()
	assert.ErrorIs(t, repo.Replace(ctx, "todos", next, models.NewVersion()), service.ErrVersionMismatch)
	require.NoError(t, repo.Replace(ctx, "todos", next, r.Version))

	got, err := repo.Read(ctx, "todos", "a")
	require.NoError(t, err)
	assert.True(t, got.Version.Equal(next.Version))

	assert.ErrorIs(t, repo.Delete(ctx, "todos", "a", r.Version), service.ErrVersionMismatch)
	require.NoError(t, repo.Delete(ctx, "todos", "a", nil))
	assert.ErrorIs(t, repo.Delete(ctx, "todos", "a", nil), service.ErrNotFound)
	_, err = repo.Read(ctx, "todos", "a")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	r := rec("a", time.Now().UTC(), map[string]any{"title": "one"})
	seed(t, repo, r)

	r.Data["title"] = "mutated"
	got, err := repo.Read(ctx, "todos", "a")
	require.NoError(t, err)
	assert.Equal(t, "one", got.Data["title"])

	got.Data["title"] = "again"
	again, _ := repo.Read(ctx, "todos", "a")
	assert.Equal(t, "one", again.Data["title"])
}

func TestMemoryRepositoryList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, repo,
		rec("c", base.Add(time.Second), map[string]any{"age": 30}),
		rec("a", base, map[string]any{"age": 50}),
		rec("b", base, map[string]any{"age": 10}),
	)

	items, total, err := repo.List(ctx, "todos", service.ListOptions{
		Ordering: service.SyncOrdering(),
		Top:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)

	items, _, err = repo.List(ctx, "todos", service.ListOptions{
		Filter:   ast.Gt(ast.Field("age", ast.KindInt), ast.Const(20)),
		Ordering: []query.Ordering{{Key: ast.Field("age", ast.KindInt), Direction: query.Descending}},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "c", items[1].ID)

	items, _, err = repo.List(ctx, "todos", service.ListOptions{Ordering: service.SyncOrdering(), Skip: 5})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, _, err = repo.List(ctx, "missing", service.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

package db

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/service"
)

func openTestLocal(t *testing.T) *LocalRepository {
	t.Helper()
	repo, err := OpenLocal(context.Background(), "sqlite3", filepath.Join(t.TempDir(), "local.db"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// seedLocal stores rec as if it had been pulled from the server.
func seedLocal(t *testing.T, repo *LocalRepository, table string, rec *models.Record) {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.UpsertItem(ctx, tx, table, rec))
	require.NoError(t, tx.Commit())
}

func TestOpenLocalRejectsUnknownDriver(t *testing.T) {
	_, err := OpenLocal(context.Background(), "mysql", "x", slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestLocalWriteQueuesOperation(t *testing.T) {
	repo := openTestLocal(t)
	ctx := context.Background()

	rec, err := repo.Write(ctx, "todos", models.OpCreate, &models.Record{Data: map[string]any{"title": "café"}})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	stored, err := repo.ReadItem(ctx, "todos", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "café", stored.Data["title"])

	ops, err := repo.PendingOperations(ctx, "todos")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCreate, ops[0].Kind)
	assert.Equal(t, rec.ID, ops[0].ItemID)
	assert.True(t, ops[0].Version.IsZero())
	require.NotNil(t, ops[0].Item)
	assert.Equal(t, "café", ops[0].Item.Data["title"])

	pending, err := repo.HasPendingOperations(ctx, "todos")
	require.NoError(t, err)
	assert.True(t, pending)

	pending, err = repo.HasPendingOperations(ctx, "notes")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestLocalWriteCollapsesPendingOperations(t *testing.T) {
	repo := openTestLocal(t)
	ctx := context.Background()

	_, err := repo.Write(ctx, "todos", models.OpCreate, &models.Record{ID: "a", Data: map[string]any{"title": "one"}})
	require.NoError(t, err)
	_, err = repo.Write(ctx, "todos", models.OpReplace, &models.Record{ID: "a", Data: map[string]any{"title": "two"}})
	require.NoError(t, err)

	ops, err := repo.PendingOperations(ctx, "todos")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCreate, ops[0].Kind)
	assert.Equal(t, "two", ops[0].Item.Data["title"])

	_, err = repo.Write(ctx, "todos", models.OpDelete, &models.Record{ID: "a"})
	require.NoError(t, err)

	ops, err = repo.PendingOperations(ctx, "todos")
	require.NoError(t, err)
	assert.Empty(t, ops)

	_, err = repo.ReadItem(ctx, "todos", "a")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestLocalWriteKeepsServerVersion(t *testing.T) {
	repo := openTestLocal(t)
	ctx := context.Background()

	v := models.NewVersion()
	seedLocal(t, repo, "todos", &models.Record{ID: "a", Version: v, UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Data: map[string]any{"n": 1}})

	_, err := repo.Write(ctx, "todos", models.OpReplace, &models.Record{ID: "a", Data: map[string]any{"n": 2}})
	require.NoError(t, err)
	_, err = repo.Write(ctx, "todos", models.OpDelete, &models.Record{ID: "a"})
	require.NoError(t, err)

	ops, err := repo.PendingOperations(ctx, "todos")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpDelete, ops[0].Kind)
	assert.True(t, ops[0].Version.Equal(v))
}

func TestLocalWriteErrors(t *testing.T) {
	repo := openTestLocal(t)
	ctx := context.Background()
	seedLocal(t, repo, "todos", &models.Record{ID: "a", Version: models.NewVersion()})

	_, err := repo.Write(ctx, "todos", models.OpCreate, &models.Record{ID: "a"})
	assert.ErrorIs(t, err, service.ErrAlreadyExists)

	_, err = repo.Write(ctx, "todos", models.OpReplace, &models.Record{ID: "missing"})
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = repo.Write(ctx, "todos", models.OpReplace, &models.Record{})
	assert.ErrorIs(t, err, service.ErrInvalidRecord)

	_, err = repo.Write(ctx, "todos", models.OpCreate, nil)
	assert.ErrorIs(t, err, service.ErrInvalidRecord)
}

func TestLocalWatermarks(t *testing.T) {
	repo := openTestLocal(t)
	ctx := context.Background()

	w, err := repo.Watermark(ctx, "todos", "todos")
	require.NoError(t, err)
	assert.True(t, w.IsZero())

	at := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)
	for _, mark := range []service.Cursor{{UpdatedAt: at.Add(-time.Hour), ID: "z"}, {UpdatedAt: at, ID: "b"}} {
		tx, err := repo.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.SetWatermark(ctx, tx, "todos", "todos", mark))
		require.NoError(t, tx.Commit())
	}

	w, err = repo.Watermark(ctx, "todos", "todos")
	require.NoError(t, err)
	assert.True(t, at.Equal(w.UpdatedAt), "got %v", w.UpdatedAt)
	assert.Equal(t, "b", w.ID)

	other, err := repo.Watermark(ctx, "todos", "todos-0123456789ab")
	require.NoError(t, err)
	assert.True(t, other.IsZero())
}

func TestLocalFailAndRetryOperations(t *testing.T) {
	repo := openTestLocal(t)
	ctx := context.Background()

	_, err := repo.Write(ctx, "todos", models.OpCreate, &models.Record{ID: "a"})
	require.NoError(t, err)
	_, err = repo.Write(ctx, "todos", models.OpCreate, &models.Record{ID: "b"})
	require.NoError(t, err)

	ops, err := repo.PendingOperations(ctx, "todos")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Less(t, ops[0].ID, ops[1].ID)

	require.NoError(t, repo.RecordAttempt(ctx, ops[0], errors.New("connection refused")))

	server := &models.Record{ID: "b", Version: models.NewVersion(), Data: map[string]any{"title": "theirs"}}
	require.NoError(t, repo.FailOperation(ctx, ops[1], errors.New("conflict"), server))

	pending, err := repo.PendingOperations(ctx, "todos")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "connection refused", pending[0].LastError)

	failed, err := repo.FailedOperations(ctx, "todos")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, models.StateFailed, failed[0].State)
	assert.Equal(t, "conflict", failed[0].LastError)
	require.NotNil(t, failed[0].ServerItem)
	assert.True(t, failed[0].ServerItem.Version.Equal(server.Version))

	tx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteOperation(ctx, tx, pending[0].ID))
	require.NoError(t, tx.Commit())

	has, err := repo.HasPendingOperations(ctx, "todos")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLocalListItems(t *testing.T) {
	repo := openTestLocal(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		seedLocal(t, repo, "todos", &models.Record{ID: id, Version: models.NewVersion()})
	}
	seedLocal(t, repo, "notes", &models.Record{ID: "z", Version: models.NewVersion()})

	items, err := repo.ListItems(ctx, "todos")
	require.NoError(t, err)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

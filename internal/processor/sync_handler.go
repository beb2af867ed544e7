package processor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-datasync/internal/db"
	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/service"
	"github.com/Guizzs26/go-datasync/pkg/infra"
	"github.com/Guizzs26/go-datasync/pkg/metrics"
)

const maxRetries = 3

// SyncHandler persists what the sync driver receives from the server. Every
// call is one local transaction, retried internally on lock contention.
type SyncHandler struct {
	repo   *db.LocalRepository
	logger *slog.Logger
}

func NewSyncHandler(repo *db.LocalRepository, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		repo:   repo,
		logger: logger,
	}
}

// ApplyPage upserts the live records of a pulled page, removes the deleted
// ones and moves the watermark of the query to mark, atomically. Applying the
// same page twice leaves the store unchanged.
func (h *SyncHandler) ApplyPage(ctx context.Context, table, queryID string, items []*models.Record, mark service.Cursor) error {
	l := h.logger.With("table", table, "query_id", queryID)

	err := h.withRetry(ctx, table, l, func(tx *sql.Tx) error {
		for _, rec := range items {
			if rec.Deleted {
				if err := h.repo.DeleteItem(ctx, tx, table, rec.ID); err != nil {
					return err
				}
				continue
			}
			if err := h.repo.UpsertItem(ctx, tx, table, rec); err != nil {
				return err
			}
		}
		return h.repo.SetWatermark(ctx, tx, table, queryID, mark)
	})
	if err != nil {
		return err
	}

	var removed int
	for _, rec := range items {
		if rec.Deleted {
			removed++
		}
	}
	metrics.PagesApplied.WithLabelValues(table).Inc()
	metrics.RecordsApplied.WithLabelValues(table, "upsert").Add(float64(len(items) - removed))
	metrics.RecordsApplied.WithLabelValues(table, "remove").Add(float64(removed))
	l.Debug("Page applied", "records", len(items), "removed", removed, "watermark", mark.UpdatedAt, "last_id", mark.ID)
	return nil
}

// CompleteOperation dequeues a pushed operation and stores the record the
// server answered with. A nil server record removes the local copy.
func (h *SyncHandler) CompleteOperation(ctx context.Context, op models.Operation, server *models.Record) error {
	l := h.logger.With("table", op.Table, "id", op.ItemID, "operation", op.Kind)

	return h.withRetry(ctx, op.Table, l, func(tx *sql.Tx) error {
		if err := h.repo.DeleteOperation(ctx, tx, op.ID); err != nil {
			return err
		}
		if server == nil || server.Deleted {
			return h.repo.DeleteItem(ctx, tx, op.Table, op.ItemID)
		}
		return h.repo.UpsertItem(ctx, tx, op.Table, server)
	})
}

// withRetry executes fn in a fresh transaction per attempt.
func (h *SyncHandler) withRetry(ctx context.Context, table string, l *slog.Logger, fn func(tx *sql.Tx) error) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		txCtx, txCancel := context.WithTimeout(ctx, 15*time.Second)
		err := h.executeTransaction(txCtx, fn)
		txCancel()

		if err == nil {
			return nil
		}

		if isLockContention(err) {
			lastErr = err
			metrics.LocalRetries.WithLabelValues(table).Inc()

			// Attempt 1: 200ms, Attempt 2: 400ms, Attempt 3: 600ms
			backoff := time.Duration(attempt) * 200 * time.Millisecond
			l.Warn("Local lock contention detected, retrying internally",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)

			if err := infra.Sleep(ctx, backoff); err != nil {
				return err
			}
			continue
		}

		// Non-recoverable error: fail fast without retrying.
		return err
	}

	return fmt.Errorf("failed after %d attempts (last error: %w)", maxRetries, lastErr)
}

func (h *SyncHandler) executeTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := h.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	// Rollback is a no-op if Commit was already called
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// isLockContention detects the concurrency errors of both local engines.
func isLockContention(err error) bool {
	msg := strings.ToLower(err.Error())
	// Firebird: deadlock, lock conflict, update conflicts with concurrent
	// update, 335544336 (ISC deadlock). SQLite: database is locked / busy.
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock conflict") ||
		strings.Contains(msg, "concurrent update") ||
		strings.Contains(msg, "335544336") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

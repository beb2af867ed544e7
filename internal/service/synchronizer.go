package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/pkg/infra"
	"github.com/Guizzs26/go-datasync/pkg/metrics"
)

// TableSync names a table to keep in sync and the query that scopes it.
type TableSync struct {
	Table string
	Query *query.Description
}

// Synchronizer runs push then pull per table. A table is never synced by two
// goroutines at once; different tables sync in parallel.
type Synchronizer struct {
	pusher *Pusher
	puller *Puller
	tables []TableSync
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func NewSynchronizer(pusher *Pusher, puller *Puller, tables []TableSync, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		pusher:  pusher,
		puller:  puller,
		tables:  tables,
		logger:  logger,
		running: make(map[string]bool),
	}
}

func (s *Synchronizer) acquire(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[table] {
		return false
	}
	s.running[table] = true
	return true
}

func (s *Synchronizer) release(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, table)
}

// SyncTable pushes the pending writes of one table, then pulls its changes.
func (s *Synchronizer) SyncTable(ctx context.Context, ts TableSync) (res PullResult, err error) {
	start := time.Now()
	if !s.acquire(ts.Table) {
		metrics.SyncDuration.WithLabelValues("busy", ts.Table).Observe(0)
		return res, fmt.Errorf("%w: %s", ErrSyncInProgress, ts.Table)
	}
	defer s.release(ts.Table)

	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.SyncDuration.WithLabelValues(status, ts.Table).Observe(time.Since(start).Seconds())
	}()

	pushed, err := s.pusher.Push(ctx, ts.Table)
	if err != nil {
		return res, fmt.Errorf("push failure: %w", err)
	}
	if pushed.Abandoned > 0 {
		s.logger.Warn("Local writes abandoned after conflicts", "table", ts.Table, "count", pushed.Abandoned)
	}

	res, err = s.puller.Pull(ctx, ts.Table, PullOptions{Query: ts.Query})
	if err != nil {
		return res, fmt.Errorf("pull failure: %w", err)
	}
	return res, nil
}

// SyncAll syncs every configured table concurrently and joins their errors.
func (s *Synchronizer) SyncAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, ts := range s.tables {
		g.Go(func() error {
			if _, err := s.SyncTable(ctx, ts); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", ts.Table, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Run syncs all tables every interval and a single table whenever its name
// arrives on triggers. After a failed cycle the next one is scheduled with a
// growing backoff instead of the interval. It blocks until ctx is canceled.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration, triggers <-chan string) {
	backoff := infra.NewBackoff(infra.SyncRetry(interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Synchronizer started", "tables", len(s.tables), "interval", interval)

	cycle := func() {
		if err := s.SyncAll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := backoff.Next()
			s.logger.Error("Sync cycle failed", "error", err, "retry_in", wait, "attempt", backoff.Attempts())
			ticker.Reset(wait)
			return
		}
		if backoff.Attempts() > 0 {
			backoff.Reset()
			ticker.Reset(interval)
		}
	}

	cycle()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Synchronizer shutting down...")
			return
		case <-ticker.C:
			cycle()
		case table, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			for _, ts := range s.tables {
				if ts.Table != table {
					continue
				}
				if _, err := s.SyncTable(ctx, ts); err != nil && !errors.Is(err, ErrSyncInProgress) {
					s.logger.Warn("Triggered sync failed", "table", table, "error", err)
				}
			}
		}
	}
}

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/pkg/metrics"
)

// Resolution is the outcome a ConflictResolver picks for a rejected write.
type Resolution int

const (
	// Abandon parks the operation as failed together with the server record.
	Abandon Resolution = iota
	// KeepServer drops the local write and stores the server record.
	KeepServer
	// KeepClient replays the local write against the server's current version.
	KeepClient
)

// ConflictResolver decides what happens to a queued write the server rejected.
type ConflictResolver func(op models.Operation, conflict *ConflictError) Resolution

// ServerWins always keeps the server state.
func ServerWins(models.Operation, *ConflictError) Resolution { return KeepServer }

// ClientWins overwrites the server, except for records deleted on the server
// which are never resurrected implicitly.
func ClientWins(_ models.Operation, c *ConflictError) Resolution {
	if c.Kind == Gone {
		return KeepServer
	}
	return KeepClient
}

// AbandonConflicts leaves every conflict for the application to handle.
func AbandonConflicts(models.Operation, *ConflictError) Resolution { return Abandon }

// ResolverByName maps a configured policy to its resolver.
func ResolverByName(name string) (ConflictResolver, error) {
	switch name {
	case "", "abandon":
		return AbandonConflicts, nil
	case "server_wins":
		return ServerWins, nil
	case "client_wins":
		return ClientWins, nil
	}
	return nil, fmt.Errorf("unknown conflict policy %q", name)
}

// PushResult summarizes one push attempt.
type PushResult struct {
	Pushed    int
	Resolved  int
	Abandoned int
}

// Pusher replays queued local writes with If-Match semantics.
type Pusher struct {
	remote   Remote
	local    LocalStore
	resolver ConflictResolver
	logger   *slog.Logger
}

func NewPusher(remote Remote, local LocalStore, resolver ConflictResolver, logger *slog.Logger) *Pusher {
	if resolver == nil {
		resolver = AbandonConflicts
	}
	return &Pusher{remote: remote, local: local, resolver: resolver, logger: logger}
}

// Push sends the pending operations of table in the order they were queued.
// It stops at the first transient failure so later writes never overtake an
// earlier one.
func (p *Pusher) Push(ctx context.Context, table string) (PushResult, error) {
	var res PushResult

	ops, err := p.local.PendingOperations(ctx, table)
	if err != nil {
		return res, err
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		l := p.logger.With("table", table, "id", op.ItemID, "operation", op.Kind)

		server, err := p.send(ctx, op)
		if alreadyDeleted(op, err) {
			// The server removed the record first; the delete has nothing left to do.
			l.Debug("Delete already applied on the server")
			server, err = nil, nil
		}
		if err == nil {
			if err := p.local.CompleteOperation(ctx, op, server); err != nil {
				return res, err
			}
			res.Pushed++
			metrics.PushedOperations.WithLabelValues(table, "success").Inc()
			continue
		}

		if conflict, ok := AsConflict(err); ok {
			outcome, err := p.resolve(ctx, op, conflict, l)
			if err != nil {
				return res, err
			}
			metrics.PushedOperations.WithLabelValues(table, outcome).Inc()
			if outcome == "failed" {
				res.Abandoned++
			} else {
				res.Resolved++
			}
			continue
		}

		if isTransient(err) {
			if rerr := p.local.RecordAttempt(ctx, op, err); rerr != nil {
				l.Error("Failed to record push attempt", "error", rerr)
			}
			return res, fmt.Errorf("push %s/%s: %w", table, op.ItemID, err)
		}

		// The server refuses this write for good; park it and go on.
		l.Warn("Operation rejected permanently", "error", err)
		if err := p.local.FailOperation(ctx, op, err, nil); err != nil {
			return res, err
		}
		res.Abandoned++
		metrics.PushedOperations.WithLabelValues(table, "failed").Inc()
	}
	return res, nil
}

func alreadyDeleted(op models.Operation, err error) bool {
	if op.Kind != models.OpDelete {
		return false
	}
	conflict, ok := AsConflict(err)
	return ok && conflict.Kind == Gone
}

func (p *Pusher) send(ctx context.Context, op models.Operation) (*models.Record, error) {
	switch op.Kind {
	case models.OpCreate:
		return p.remote.Create(ctx, op.Table, op.Item)
	case models.OpReplace:
		return p.remote.Replace(ctx, op.Table, op.Item, op.Version)
	case models.OpDelete:
		return nil, p.remote.Delete(ctx, op.Table, op.ItemID, op.Version)
	}
	return nil, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidRecord, op.Kind)
}

// resolve applies the resolver's decision and returns the metric outcome.
func (p *Pusher) resolve(ctx context.Context, op models.Operation, conflict *ConflictError, l *slog.Logger) (string, error) {
	decision := p.resolver(op, conflict)
	l.Info("Push conflict", "kind", conflict.Kind, "resolution", decision)

	switch decision {
	case KeepServer:
		if err := p.local.CompleteOperation(ctx, op, conflict.Current); err != nil {
			return "", err
		}
		return "conflict_resolved", nil

	case KeepClient:
		retry := op
		retry.Version = nil
		if conflict.Current != nil {
			retry.Version = conflict.Current.Version
		}
		if retry.Kind == models.OpCreate {
			retry.Kind = models.OpReplace
		}
		if retry.Item != nil {
			retry.Item = retry.Item.Clone()
			retry.Item.Version = retry.Version
		}
		server, err := p.send(ctx, retry)
		if err == nil {
			if err := p.local.CompleteOperation(ctx, op, server); err != nil {
				return "", err
			}
			return "conflict_resolved", nil
		}
		// A second conflict means the record keeps moving; leave it to the application.
		if again, ok := AsConflict(err); ok {
			conflict = again
		} else if isTransient(err) {
			return "", fmt.Errorf("push %s/%s retry: %w", op.Table, op.ItemID, err)
		} else {
			return "failed", p.local.FailOperation(ctx, op, err, conflict.Current)
		}
	}

	if err := p.local.FailOperation(ctx, op, conflict, conflict.Current); err != nil {
		return "", err
	}
	return "failed", nil
}

func (r Resolution) String() string {
	switch r {
	case KeepServer:
		return "keep_server"
	case KeepClient:
		return "keep_client"
	}
	return "abandon"
}

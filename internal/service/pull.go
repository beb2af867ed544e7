package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// Remote is the server side of a sync as seen from the client.
type Remote interface {
	List(ctx context.Context, table string, d *query.Description) (*models.Page, error)
	Create(ctx context.Context, table string, rec *models.Record) (*models.Record, error)
	Replace(ctx context.Context, table string, rec *models.Record, expected models.Version) (*models.Record, error)
	Delete(ctx context.Context, table, id string, expected models.Version) error
}

// LocalStore is the client side persistence of a sync.
type LocalStore interface {
	// Watermark is the sync position of the last record applied for a query.
	Watermark(ctx context.Context, table, queryID string) (Cursor, error)
	// ApplyPage stores the page effects and the new watermark atomically.
	ApplyPage(ctx context.Context, table, queryID string, items []*models.Record, mark Cursor) error

	PendingOperations(ctx context.Context, table string) ([]models.Operation, error)
	HasPendingOperations(ctx context.Context, table string) (bool, error)
	CompleteOperation(ctx context.Context, op models.Operation, server *models.Record) error
	FailOperation(ctx context.Context, op models.Operation, cause error, server *models.Record) error
	RecordAttempt(ctx context.Context, op models.Operation, cause error) error
}

const DefaultPullPageSize = 50

// PullOptions narrows a pull. Query may carry a filter, a selection and
// custom parameters; its ordering, paging and cursor are replaced.
type PullOptions struct {
	Query   *query.Description
	QueryID string
}

// PullResult summarizes one pull attempt.
type PullResult struct {
	QueryID   string
	Pages     int
	Records   int
	Watermark time.Time
}

// Puller transfers the records changed since the last watermark.
type Puller struct {
	remote   Remote
	local    LocalStore
	pageSize int
	logger   *slog.Logger
}

func NewPuller(remote Remote, local LocalStore, pageSize int, logger *slog.Logger) *Puller {
	if pageSize <= 0 {
		pageSize = DefaultPullPageSize
	}
	return &Puller{remote: remote, local: local, pageSize: pageSize, logger: logger}
}

// QueryID derives the watermark key of a query: the table name alone for a
// full table pull, the table and a digest of the compiled filter otherwise.
func QueryID(table string, filter ast.Node) (string, error) {
	if filter == nil {
		return table, nil
	}
	f, err := query.CompileFilter(filter)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(f))
	return table + "-" + hex.EncodeToString(sum[:])[:12], nil
}

// Pull requests keyset pages of at most pageSize records until the change set
// is exhausted. Each page is applied with its watermark in one local
// transaction. The watermark keeps the id of the last applied record, so an
// interrupted pull resumes right after it and no record is applied twice.
func (p *Puller) Pull(ctx context.Context, table string, opts PullOptions) (PullResult, error) {
	var res PullResult
	l := p.logger.With("table", table)

	pending, err := p.local.HasPendingOperations(ctx, table)
	if err != nil {
		return res, err
	}
	if pending {
		return res, fmt.Errorf("%w: %s", ErrPendingOperations, table)
	}

	d := &query.Description{}
	if opts.Query != nil {
		d = opts.Query.Clone()
	}
	if len(d.Ordering) > 0 && !IsSyncOrdering(d.Ordering) {
		l.Warn("Pull ordering replaced by updatedAt,id")
	}

	res.QueryID = opts.QueryID
	if res.QueryID == "" {
		if res.QueryID, err = QueryID(table, d.Filter); err != nil {
			return res, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}

	mark, err := p.local.Watermark(ctx, table, res.QueryID)
	if err != nil {
		return res, err
	}
	res.Watermark = mark.UpdatedAt

	d.Cursor = ""
	switch {
	case mark.ID != "":
		d.Cursor = EncodeCursor(mark)
	case !mark.IsZero():
		// Without a record id the boundary instant is fetched again.
		d.Filter = conjoin(ast.Ge(ast.Field(models.FieldUpdatedAt, ast.KindDateTimeOffset), ast.Const(mark.UpdatedAt)), d.Filter)
	}
	d.Ordering = SyncOrdering()
	d.Skip = 0
	d.Top = p.pageSize
	d.IncludeDeleted = true

	l = l.With("query_id", res.QueryID)
	l.Debug("Pull started", "watermark", mark.UpdatedAt, "last_id", mark.ID)

	for {
		page, err := p.remote.List(ctx, table, d)
		if err != nil {
			return res, fmt.Errorf("pull %s page %d: %w", table, res.Pages+1, err)
		}

		last := page.Last()
		if last != nil {
			mark = Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
			if err := p.local.ApplyPage(ctx, table, res.QueryID, page.Items, mark); err != nil {
				return res, fmt.Errorf("apply %s page %d: %w", table, res.Pages+1, err)
			}
			res.Watermark = mark.UpdatedAt
		}
		res.Pages++
		res.Records += len(page.Items)

		// A short page without a continuation link is the end of the change set.
		if last == nil || (page.NextLink == "" && len(page.Items) < p.pageSize) {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		d.Cursor = EncodeCursor(mark)
	}

	l.Info("Pull finished", "pages", res.Pages, "records", res.Records, "watermark", res.Watermark)
	return res, nil
}

// isTransient reports whether err may go away on retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := AsConflict(err); ok {
		return false
	}
	for _, perm := range []error{ErrNotFound, ErrInvalidRecord, ErrInvalidQuery, ErrUnknownTable, ErrForbidden, context.Canceled} {
		if errors.Is(err, perm) {
			return false
		}
	}
	return true
}

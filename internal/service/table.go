package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/query/ast"
	"github.com/Guizzs26/go-datasync/pkg/metrics"
)

// ListOptions is the storage level form of a list query. Filter and Ordering
// are wire trees.
type ListOptions struct {
	Filter   ast.Node
	Ordering []query.Ordering
	Skip     int
	Top      int
	Count    bool
}

// Repository defines the storage contract of the server. Replace and Delete
// must compare expected against the stored version and write atomically; a
// nil expected version makes them unconditional.
type Repository interface {
	Read(ctx context.Context, table, id string) (*models.Record, error)
	Create(ctx context.Context, table string, rec *models.Record) error
	Replace(ctx context.Context, table string, rec *models.Record, expected models.Version) error
	Delete(ctx context.Context, table, id string, expected models.Version) error
	List(ctx context.Context, table string, opts ListOptions) ([]*models.Record, int64, error)
}

// Access names the operation an AccessControl hook is asked about.
type Access string

const (
	AccessRead    Access = "read"
	AccessList    Access = "list"
	AccessCreate  Access = "create"
	AccessReplace Access = "replace"
	AccessDelete  Access = "delete"
)

// AccessControl vetoes an operation by returning an error. rec is nil for
// list requests.
type AccessControl func(ctx context.Context, table string, op Access, rec *models.Record) error

// Notifier receives an event after every accepted write
type Notifier interface {
	Notify(ctx context.Context, ev models.ChangeEvent) error
}

// TableOptions configures a TableService.
type TableOptions struct {
	Tables      []string // empty allows any valid table name
	SoftDelete  bool
	MaxPageSize int
	Access      AccessControl
	Notifier    Notifier
	Now         func() time.Time
}

const DefaultMaxPageSize = 100

// maxWriteAttempts bounds the retries of unconditional writes racing with
// other writers.
const maxWriteAttempts = 3

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableService applies the conflict resolution protocol on top of a Repository
type TableService struct {
	repo   Repository
	tables map[string]bool
	opts   TableOptions
	logger *slog.Logger
}

func NewTableService(repo Repository, opts TableOptions, logger *slog.Logger) *TableService {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tables := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		tables[strings.TrimSpace(t)] = true
	}
	return &TableService{
		repo:   repo,
		tables: tables,
		opts:   opts,
		logger: logger,
	}
}

func (s *TableService) checkTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if len(s.tables) > 0 && !s.tables[table] {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}

func (s *TableService) authorize(ctx context.Context, table string, op Access, rec *models.Record) error {
	if s.opts.Access == nil {
		return nil
	}
	if err := s.opts.Access(ctx, table, op, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return nil
}

// observe records the outcome of a table operation. It is meant to be deferred.
func (s *TableService) observe(table string, op Access, start time.Time, err *error) {
	metrics.OperationDuration.WithLabelValues(table, string(op)).Observe(time.Since(start).Seconds())
	outcome := "success"
	if *err != nil {
		outcome = "error"
		if ce, ok := AsConflict(*err); ok {
			outcome = "conflict"
			metrics.Conflicts.WithLabelValues(table, ce.Kind.String()).Inc()
		} else if errors.Is(*err, ErrNotFound) {
			outcome = "not_found"
		}
	}
	metrics.TableOperations.WithLabelValues(table, string(op), outcome).Inc()
}

func (s *TableService) notify(ctx context.Context, table string, op models.OperationKind, rec *models.Record) {
	if s.opts.Notifier == nil {
		return
	}
	ev := models.ChangeEvent{
		EventID:   uuid.NewString(),
		Table:     table,
		ItemID:    rec.ID,
		Operation: op,
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
		Deleted:   rec.Deleted,
	}
	if err := s.opts.Notifier.Notify(ctx, ev); err != nil {
		// The write is committed; clients still catch up on their next poll.
		metrics.NotificationFailures.Inc()
		s.logger.Warn("Failed to publish change event", "table", table, "id", rec.ID, "error", err)
	}
}

// stamp gives next a fresh version and a watermark after prev.
func (s *TableService) stamp(next *models.Record, prev time.Time) {
	next.Version = models.NewVersion()
	next.UpdatedAt = models.NextUpdatedAt(prev, s.opts.Now())
}

// Read returns a record. Soft-deleted records are Gone unless includeDeleted.
func (s *TableService) Read(ctx context.Context, table, id string, includeDeleted bool) (rec *models.Record, err error) {
	defer s.observe(table, AccessRead, time.Now(), &err)
	if err := s.checkTable(table); err != nil {
		return nil, err
	}

	rec, err = s.repo.Read(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, table, AccessRead, rec); err != nil {
		return nil, err
	}
	if rec.Deleted && !includeDeleted {
		return nil, &ConflictError{Kind: Gone, Table: table, ID: id, Current: rec}
	}
	return rec, nil
}

// Create stores a new record. An existing id is always a conflict, whatever
// version the caller holds, and the conflict carries the stored record.
func (s *TableService) Create(ctx context.Context, table string, in *models.Record) (rec *models.Record, err error) {
	defer s.observe(table, AccessCreate, time.Now(), &err)
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	if in == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidRecord)
	}

	rec = in.Clone()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Deleted = false
	if err := s.authorize(ctx, table, AccessCreate, rec); err != nil {
		return nil, err
	}

	if existing, err := s.repo.Read(ctx, table, rec.ID); err == nil {
		return nil, &ConflictError{Kind: AlreadyExists, Table: table, ID: rec.ID, Current: existing}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("read before create: %w", err)
	}

	s.stamp(rec, time.Time{})
	if err := s.repo.Create(ctx, table, rec); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, s.conflictFromStore(ctx, table, rec.ID, AlreadyExists)
		}
		return nil, fmt.Errorf("create: %w", err)
	}

	s.logger.Debug("Record created", "table", table, "id", rec.ID)
	s.notify(ctx, table, models.OpCreate, rec)
	return rec, nil
}

// Replace overwrites a record. With a non-empty expected version the write
// only proceeds when it matches the stored one. Version and updatedAt are
// regenerated on every accepted write, even when nothing visible changed.
func (s *TableService) Replace(ctx context.Context, table string, in *models.Record, expected models.Version, includeDeleted bool) (rec *models.Record, err error) {
	defer s.observe(table, AccessReplace, time.Now(), &err)
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	if in == nil || in.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}

	for attempt := 1; ; attempt++ {
		current, err := s.repo.Read(ctx, table, in.ID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, table, AccessReplace, current); err != nil {
			return nil, err
		}
		if current.Deleted && !includeDeleted {
			return nil, &ConflictError{Kind: Gone, Table: table, ID: in.ID, Current: current}
		}
		if !expected.IsZero() && !expected.Equal(current.Version) {
			return nil, &ConflictError{Kind: VersionMismatch, Table: table, ID: in.ID, Current: current}
		}

		next := in.Clone()
		// Undelete happens when the caller sees the deleted record and clears the flag.
		next.Deleted = current.Deleted && in.Deleted
		s.stamp(next, current.UpdatedAt)

		err = s.repo.Replace(ctx, table, next, current.Version)
		switch {
		case err == nil:
			s.notify(ctx, table, models.OpReplace, next)
			return next, nil
		case errors.Is(err, ErrVersionMismatch):
			// Someone wrote between our read and our write.
			if !expected.IsZero() || attempt >= maxWriteAttempts {
				return nil, s.conflictFromStore(ctx, table, in.ID, VersionMismatch)
			}
			s.logger.Debug("Concurrent write detected, retrying unconditional replace", "table", table, "id", in.ID, "attempt", attempt)
		default:
			return nil, fmt.Errorf("replace: %w", err)
		}
	}
}

// Delete removes a record: soft delete marks it, otherwise it is removed
// physically. Deleting an absent record succeeds. Deleting a soft-deleted
// record with includeDeleted purges it.
func (s *TableService) Delete(ctx context.Context, table, id string, expected models.Version, includeDeleted bool) (err error) {
	defer s.observe(table, AccessDelete, time.Now(), &err)
	if err := s.checkTable(table); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		current, err := s.repo.Read(ctx, table, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, table, AccessDelete, current); err != nil {
			return err
		}
		if current.Deleted && !includeDeleted {
			return &ConflictError{Kind: Gone, Table: table, ID: id, Current: current}
		}
		if !expected.IsZero() && !expected.Equal(current.Version) {
			return &ConflictError{Kind: VersionMismatch, Table: table, ID: id, Current: current}
		}

		var removed *models.Record
		if s.opts.SoftDelete && !current.Deleted {
			next := current.Clone()
			next.Deleted = true
			s.stamp(next, current.UpdatedAt)
			err = s.repo.Replace(ctx, table, next, current.Version)
			removed = next
		} else {
			err = s.repo.Delete(ctx, table, id, current.Version)
			removed = current
		}

		switch {
		case err == nil:
			s.notify(ctx, table, models.OpDelete, removed)
			return nil
		case errors.Is(err, ErrNotFound):
			return nil
		case errors.Is(err, ErrVersionMismatch):
			if !expected.IsZero() || attempt >= maxWriteAttempts {
				return s.conflictFromStore(ctx, table, id, VersionMismatch)
			}
		default:
			return fmt.Errorf("delete: %w", err)
		}
	}
}

// conflictFromStore re-reads the record after a storage level conflict so the
// error carries the state that won the race.
func (s *TableService) conflictFromStore(ctx context.Context, table, id string, kind ConflictKind) error {
	current, err := s.repo.Read(ctx, table, id)
	if err != nil {
		return fmt.Errorf("read after conflict: %w", err)
	}
	return &ConflictError{Kind: kind, Table: table, ID: id, Current: current}
}

// List runs a query. It returns the page and, when more records remain, the
// description of the next page.
func (s *TableService) List(ctx context.Context, table string, d *query.Description) (page *models.Page, next *query.Description, err error) {
	defer s.observe(table, AccessList, time.Now(), &err)
	if err := s.checkTable(table); err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, table, AccessList, nil); err != nil {
		return nil, nil, err
	}

	var filter ast.Node
	if d.Filter != nil {
		if filter, err = query.LowerPredicate(d.Filter); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}
	if !d.IncludeDeleted {
		filter = conjoin(filter, ast.Eq(ast.Field(models.FieldDeleted, ast.KindBool), ast.Const(false)))
	}

	ordering := d.Ordering
	for _, o := range ordering {
		if _, err := query.LowerOrderingKey(o.Key); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}
	keyset := IsSyncOrdering(ordering)
	if d.Cursor != "" {
		if !keyset {
			return nil, nil, fmt.Errorf("%w: %s requires $orderby=updatedAt,id", ErrInvalidQuery, query.ParamCursor)
		}
		c, err := DecodeCursor(d.Cursor)
		if err != nil {
			return nil, nil, err
		}
		filter = conjoin(filter, c.After())
	}
	ordering = withIDTieBreak(ordering)

	size := s.opts.MaxPageSize
	capped := false
	if d.Top > 0 && d.Top <= size {
		size = d.Top
		capped = true
	}

	items, total, err := s.repo.List(ctx, table, ListOptions{
		Filter:   filter,
		Ordering: ordering,
		Skip:     d.Skip,
		Top:      size + 1,
		Count:    d.RequestTotalCount,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list: %w", err)
	}

	more := len(items) > size
	if more {
		items = items[:size]
	}
	metrics.PageSize.Observe(float64(len(items)))

	page = &models.Page{Items: make([]*models.Record, len(items))}
	for i, it := range items {
		page.Items[i] = it.Project(d.Selection)
	}
	if d.RequestTotalCount {
		page.Count = &total
	}

	if more && !capped {
		next = d.Clone()
		if d.Top > 0 {
			next.Top = d.Top - len(items)
		}
		if keyset {
			last := items[len(items)-1]
			next.Cursor = EncodeCursor(Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID})
			next.Skip = 0
		} else {
			next.Skip = d.Skip + len(items)
		}
	}
	return page, next, nil
}

// conjoin ands two optional predicates.
func conjoin(a, b ast.Node) ast.Node {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return ast.And(a, b)
}

// withIDTieBreak appends id to orderings that do not already contain it so
// that skip based paging is deterministic.
func withIDTieBreak(keys []query.Ordering) []query.Ordering {
	for _, k := range keys {
		if m, ok := k.Key.(*ast.MemberAccess); ok && m.Instance == nil && m.Name == models.FieldID {
			return keys
		}
	}
	out := make([]query.Ordering, len(keys), len(keys)+1)
	copy(out, keys)
	return append(out, query.Ordering{Key: ast.Field(models.FieldID, ast.KindString)})
}

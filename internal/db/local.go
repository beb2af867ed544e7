package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/nakagami/firebirdsql"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/Guizzs26/go-datasync/internal/mapper"
	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/service"
	"github.com/Guizzs26/go-datasync/pkg/encoding"
)

const (
	itemsTable      = "datasync_items"
	watermarksTable = "datasync_watermarks"
	operationsTable = "datasync_operations"
	sequencesTable  = "datasync_sequences"

	operationSequence = "GEN_DATASYNC_OPERATIONS_ID"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LocalRepository is the offline store of a sync client: the mirrored items,
// the watermark of every query and the queue of writes waiting to be pushed.
type LocalRepository struct {
	db      *sql.DB
	sqlb    *mapper.SQLBuilder
	dialect mapper.Dialect
	logger  *slog.Logger
}

// OpenLocal opens the local store. driver is "sqlite3" or "firebirdsql".
func OpenLocal(ctx context.Context, driver, dsn string, logger *slog.Logger) (*LocalRepository, error) {
	dialect := mapper.Dialect(driver)
	if dialect != mapper.DialectSQLite && dialect != mapper.DialectFirebird {
		return nil, fmt.Errorf("unsupported local driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	// A single connection serializes local writers, which both engines prefer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", driver, err)
	}

	if dialect == mapper.DialectSQLite {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	logger.Info("Local store opened", "driver", driver)

	r := &LocalRepository{
		db:      db,
		sqlb:    mapper.NewSQLBuilder(dialect),
		dialect: dialect,
		logger:  logger,
	}
	if err := r.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS datasync_items (
		table_name  TEXT    NOT NULL,
		item_id     TEXT    NOT NULL,
		updated_at  TEXT    NOT NULL,
		version_tag TEXT    NOT NULL,
		is_deleted  INTEGER NOT NULL DEFAULT 0,
		payload     TEXT    NOT NULL,
		PRIMARY KEY (table_name, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS datasync_watermarks (
		table_name TEXT NOT NULL,
		query_id   TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		item_id    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (table_name, query_id)
	)`,
	`CREATE TABLE IF NOT EXISTS datasync_operations (
		op_id        INTEGER PRIMARY KEY,
		table_name   TEXT    NOT NULL,
		item_id      TEXT    NOT NULL,
		kind         TEXT    NOT NULL,
		item         TEXT,
		base_version TEXT,
		state        TEXT    NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		last_error   TEXT,
		server_item  TEXT,
		created_at   TEXT    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS datasync_operations_item_idx ON datasync_operations (table_name, item_id, state)`,
	`CREATE TABLE IF NOT EXISTS datasync_sequences (
		seq_name  TEXT    PRIMARY KEY,
		seq_value INTEGER NOT NULL
	)`,
}

// Firebird has no IF NOT EXISTS, so each relation is created only when the
// system catalog does not list it.
var firebirdSchema = []struct{ name, ddl string }{
	{itemsTable, `CREATE TABLE DATASYNC_ITEMS (
		TABLE_NAME  VARCHAR(63)  NOT NULL,
		ITEM_ID     VARCHAR(255) NOT NULL,
		UPDATED_AT  VARCHAR(30)  NOT NULL,
		VERSION_TAG VARCHAR(64)  NOT NULL,
		IS_DELETED  SMALLINT     DEFAULT 0 NOT NULL,
		PAYLOAD     BLOB SUB_TYPE TEXT CHARACTER SET WIN1252,
		PRIMARY KEY (TABLE_NAME, ITEM_ID)
	)`},
	{watermarksTable, `CREATE TABLE DATASYNC_WATERMARKS (
		TABLE_NAME VARCHAR(63)  NOT NULL,
		QUERY_ID   VARCHAR(127) NOT NULL,
		UPDATED_AT VARCHAR(30)  NOT NULL,
		ITEM_ID    VARCHAR(255) DEFAULT '' NOT NULL,
		PRIMARY KEY (TABLE_NAME, QUERY_ID)
	)`},
	{operationsTable, `CREATE TABLE DATASYNC_OPERATIONS (
		OP_ID        BIGINT       NOT NULL PRIMARY KEY,
		TABLE_NAME   VARCHAR(63)  NOT NULL,
		ITEM_ID      VARCHAR(255) NOT NULL,
		KIND         VARCHAR(16)  NOT NULL,
		ITEM         BLOB SUB_TYPE TEXT CHARACTER SET WIN1252,
		BASE_VERSION VARCHAR(64),
		STATE        VARCHAR(16)  NOT NULL,
		ATTEMPTS     INTEGER      DEFAULT 0 NOT NULL,
		LAST_ERROR   VARCHAR(1024) CHARACTER SET WIN1252,
		SERVER_ITEM  BLOB SUB_TYPE TEXT CHARACTER SET WIN1252,
		CREATED_AT   VARCHAR(30)  NOT NULL
	)`},
	{sequencesTable, `CREATE TABLE DATASYNC_SEQUENCES (
		SEQ_NAME  VARCHAR(63) NOT NULL PRIMARY KEY,
		SEQ_VALUE BIGINT      NOT NULL
	)`},
}

// EnsureSchema creates the local relations when missing.
func (r *LocalRepository) EnsureSchema(ctx context.Context) error {
	if r.dialect == mapper.DialectSQLite {
		for _, ddl := range sqliteSchema {
			if _, err := r.db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("failed to create local schema: %w", err)
			}
		}
		return nil
	}

	for _, rel := range firebirdSchema {
		var n int
		err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM RDB$RELATIONS WHERE RDB$RELATION_NAME = ?`,
			strings.ToUpper(rel.name)).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to inspect catalog: %w", err)
		}
		if n > 0 {
			continue
		}
		if _, err := r.db.ExecContext(ctx, rel.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", rel.name, err)
		}
		r.logger.Info("Created local relation", "relation", rel.name)
	}
	return nil
}

// Dialect reports the SQL flavour of the store.
func (r *LocalRepository) Dialect() mapper.Dialect { return r.dialect }

// BeginTx starts a transaction with ReadCommitted isolation level on
// Firebird. SQLite transactions are always serializable.
func (r *LocalRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if r.dialect == mapper.DialectSQLite {
		return r.db.BeginTx(ctx, nil)
	}
	return r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
}

func (r *LocalRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close gracefully shuts down the database connection pool
func (r *LocalRepository) Close() error {
	r.logger.Info("Closing local store")
	return r.db.Close()
}

// textArg prepares a text value for a WIN1252 column on Firebird.
func (r *LocalRepository) textArg(s string) any {
	if r.dialect == mapper.DialectFirebird {
		return encoding.FromUTF8(s)
	}
	return s
}

// text decodes a scanned text column.
func (r *LocalRepository) text(b []byte) string {
	if r.dialect == mapper.DialectFirebird {
		return encoding.ToUTF8(b)
	}
	return string(b)
}

func (r *LocalRepository) exec(ctx context.Context, q querier, query string, args []any) (sql.Result, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return q.ExecContext(opCtx, query, args...)
}

func parseStoredTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(mapper.TimeLayout, strings.TrimSpace(s))
}

// UpsertItem stores rec as the local copy of a server record.
func (r *LocalRepository) UpsertItem(ctx context.Context, tx *sql.Tx, table string, rec *models.Record) error {
	payload, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, rec.ID, err)
	}
	query, args, err := r.sqlb.BuildUpsert(itemsTable, []string{"table_name", "item_id"}, map[string]any{
		"table_name":  table,
		"item_id":     rec.ID,
		"updated_at":  rec.UpdatedAt,
		"version_tag": rec.Version.String(),
		"is_deleted":  rec.Deleted,
		"payload":     r.textArg(string(payload)),
	})
	if err != nil {
		return err
	}
	if _, err := r.exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", table, rec.ID, err)
	}
	return nil
}

// DeleteItem removes the local copy of a record. Absent items are ignored.
func (r *LocalRepository) DeleteItem(ctx context.Context, tx *sql.Tx, table, id string) error {
	query, args, err := r.sqlb.BuildDelete(itemsTable, map[string]any{"table_name": table, "item_id": id})
	if err != nil {
		return err
	}
	if _, err := r.exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	return nil
}

func (r *LocalRepository) readItem(ctx context.Context, q querier, table, id string) (*models.Record, error) {
	row := q.QueryRowContext(ctx, r.itemSelect()+` WHERE table_name = ? AND item_id = ?`, table, id)
	rec, err := r.scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	return rec, err
}

// ReadItem returns the local copy of a record.
func (r *LocalRepository) ReadItem(ctx context.Context, table, id string) (*models.Record, error) {
	return r.readItem(ctx, r.db, table, id)
}

// ListItems returns every local record of table ordered by id.
func (r *LocalRepository) ListItems(ctx context.Context, table string) ([]*models.Record, error) {
	rows, err := r.db.QueryContext(ctx, r.itemSelect()+` WHERE table_name = ? ORDER BY item_id`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := r.scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *LocalRepository) itemSelect() string {
	return `SELECT item_id, updated_at, version_tag, is_deleted, payload FROM ` + itemsTable
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *LocalRepository) scanItem(row scanner) (*models.Record, error) {
	var (
		id, updatedAt, version, payload []byte
		deleted                         int64
	)
	if err := row.Scan(&id, &updatedAt, &version, &deleted, &payload); err != nil {
		return nil, err
	}
	rec := &models.Record{ID: r.text(id), Deleted: deleted != 0}

	var err error
	if rec.UpdatedAt, err = parseStoredTime(string(updatedAt)); err != nil {
		return nil, fmt.Errorf("corrupt updated_at on %s: %w", rec.ID, err)
	}
	if rec.Version, err = models.ParseVersion(strings.TrimSpace(string(version))); err != nil {
		return nil, fmt.Errorf("corrupt version on %s: %w", rec.ID, err)
	}
	if err := decodeData([]byte(r.text(payload)), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Watermark returns the position of the last record applied for a query:
// its updatedAt and id. It is zero before the first pull.
func (r *LocalRepository) Watermark(ctx context.Context, table, queryID string) (service.Cursor, error) {
	var mark service.Cursor
	var raw, id []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT updated_at, item_id FROM `+watermarksTable+` WHERE table_name = ? AND query_id = ?`,
		table, queryID).Scan(&raw, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return mark, nil
	}
	if err != nil {
		return mark, fmt.Errorf("failed to read watermark of %s/%s: %w", table, queryID, err)
	}
	if mark.UpdatedAt, err = parseStoredTime(string(raw)); err != nil {
		return mark, err
	}
	mark.ID = strings.TrimSpace(string(id))
	return mark, nil
}

// SetWatermark records the watermark of a query inside tx.
func (r *LocalRepository) SetWatermark(ctx context.Context, tx *sql.Tx, table, queryID string, mark service.Cursor) error {
	query, args, err := r.sqlb.BuildUpsert(watermarksTable, []string{"table_name", "query_id"}, map[string]any{
		"table_name": table,
		"query_id":   queryID,
		"updated_at": mark.UpdatedAt,
		"item_id":    mark.ID,
	})
	if err != nil {
		return err
	}
	if _, err := r.exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("failed to store watermark of %s/%s: %w", table, queryID, err)
	}
	return nil
}

// NextID increments a named sequence inside tx and returns the new value.
func (r *LocalRepository) NextID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := tx.ExecContext(opCtx, `UPDATE `+sequencesTable+` SET seq_value = seq_value + 1 WHERE seq_name = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence %s: %w", name, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := tx.ExecContext(opCtx, `INSERT INTO `+sequencesTable+` (seq_name, seq_value) VALUES (?, 1)`, name); err != nil {
			return 0, fmt.Errorf("failed to start sequence %s: %w", name, err)
		}
	}

	var next int64
	if err := tx.QueryRowContext(opCtx, `SELECT seq_value FROM `+sequencesTable+` WHERE seq_name = ?`, name).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to read sequence %s: %w", name, err)
	}
	r.logger.Debug("Generated new ID", "sequence", name, "id", next)
	return next, nil
}

// Write applies a change made by the local application and queues it for
// push, in one transaction. A pending operation on the same item is merged
// with the new one.
func (r *LocalRepository) Write(ctx context.Context, table string, kind models.OperationKind, rec *models.Record) (*models.Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: empty record", service.ErrInvalidRecord)
	}
	rec = rec.Clone()
	if rec.ID == "" {
		if kind != models.OpCreate {
			return nil, fmt.Errorf("%w: missing id", service.ErrInvalidRecord)
		}
		rec.ID = uuid.NewString()
	}

	tx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// The server version the change is based on becomes the If-Match of the push.
	existing, err := r.readItem(ctx, tx, table, rec.ID)
	switch {
	case errors.Is(err, service.ErrNotFound):
		if kind != models.OpCreate {
			return nil, fmt.Errorf("%s/%s: %w", table, rec.ID, service.ErrNotFound)
		}
	case err != nil:
		return nil, err
	default:
		if kind == models.OpCreate {
			return nil, fmt.Errorf("%s/%s: %w", table, rec.ID, service.ErrAlreadyExists)
		}
		rec.Version = existing.Version
		rec.UpdatedAt = existing.UpdatedAt
	}

	op := models.Operation{
		Table:     table,
		ItemID:    rec.ID,
		Kind:      kind,
		Version:   rec.Version,
		State:     models.StatePending,
		CreatedAt: time.Now().UTC(),
	}
	if kind == models.OpDelete {
		if err := r.DeleteItem(ctx, tx, table, rec.ID); err != nil {
			return nil, err
		}
	} else {
		op.Item = rec
		if err := r.UpsertItem(ctx, tx, table, rec); err != nil {
			return nil, err
		}
	}

	if err := r.enqueue(ctx, tx, op); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}
	return rec, nil
}

func (r *LocalRepository) enqueue(ctx context.Context, tx *sql.Tx, op models.Operation) error {
	pending, err := r.operations(ctx, tx, `table_name = ? AND item_id = ? AND state = ?`,
		op.Table, op.ItemID, string(models.StatePending))
	if err != nil {
		return err
	}

	merged := &op
	if len(pending) > 0 {
		prev := pending[len(pending)-1]
		if err := r.DeleteOperation(ctx, tx, prev.ID); err != nil {
			return err
		}
		if merged = models.Collapse(prev, op); merged == nil {
			r.logger.Debug("Queued operations cancelled out", "table", op.Table, "id", op.ItemID)
			return nil
		}
	}
	if merged.ID == 0 {
		if merged.ID, err = r.NextID(ctx, tx, operationSequence); err != nil {
			return err
		}
	}
	return r.saveOperation(ctx, tx, *merged)
}

func (r *LocalRepository) saveOperation(ctx context.Context, tx *sql.Tx, op models.Operation) error {
	row := map[string]any{
		"op_id":        op.ID,
		"table_name":   op.Table,
		"item_id":      op.ItemID,
		"kind":         string(op.Kind),
		"item":         nil,
		"base_version": op.Version.String(),
		"state":        string(op.State),
		"attempts":     op.Attempts,
		"last_error":   r.textArg(op.LastError),
		"server_item":  nil,
		"created_at":   op.CreatedAt,
	}
	for col, rec := range map[string]*models.Record{"item": op.Item, "server_item": op.ServerItem} {
		if rec == nil {
			continue
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode operation %d: %w", op.ID, err)
		}
		row[col] = r.textArg(string(b))
	}

	query, args, err := r.sqlb.BuildUpsert(operationsTable, []string{"op_id"}, row)
	if err != nil {
		return err
	}
	if _, err := r.exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("failed to store operation %d: %w", op.ID, err)
	}
	return nil
}

// DeleteOperation removes a queued operation inside tx.
func (r *LocalRepository) DeleteOperation(ctx context.Context, tx *sql.Tx, id int64) error {
	query, args, err := r.sqlb.BuildDelete(operationsTable, map[string]any{"op_id": id})
	if err != nil {
		return err
	}
	if _, err := r.exec(ctx, tx, query, args); err != nil {
		return fmt.Errorf("failed to delete operation %d: %w", id, err)
	}
	return nil
}

// PendingOperations returns the queued writes of table in the order they were
// made.
func (r *LocalRepository) PendingOperations(ctx context.Context, table string) ([]models.Operation, error) {
	return r.operations(ctx, r.db, `table_name = ? AND state = ?`, table, string(models.StatePending))
}

// FailedOperations returns the writes that were abandoned after a conflict.
func (r *LocalRepository) FailedOperations(ctx context.Context, table string) ([]models.Operation, error) {
	return r.operations(ctx, r.db, `table_name = ? AND state = ?`, table, string(models.StateFailed))
}

// HasPendingOperations reports whether table has queued writes.
func (r *LocalRepository) HasPendingOperations(ctx context.Context, table string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+operationsTable+` WHERE table_name = ? AND state = ?`,
		table, string(models.StatePending)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count operations of %s: %w", table, err)
	}
	return n > 0, nil
}

// FailOperation parks an operation with the error that stopped it and, for
// conflicts, the server record it lost against.
func (r *LocalRepository) FailOperation(ctx context.Context, op models.Operation, cause error, server *models.Record) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	op.State = models.StateFailed
	op.Attempts++
	op.ServerItem = server
	if cause != nil {
		op.LastError = cause.Error()
		if len(op.LastError) > 1024 {
			op.LastError = op.LastError[:1024]
		}
	}
	if err := r.saveOperation(ctx, tx, op); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordAttempt bumps the attempt counter of an operation that hit a
// transient error and stays queued.
func (r *LocalRepository) RecordAttempt(ctx context.Context, op models.Operation, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	query, args, err := r.sqlb.BuildUpdate(operationsTable,
		map[string]any{"attempts": op.Attempts + 1, "last_error": r.textArg(msg)},
		map[string]any{"op_id": op.ID})
	if err != nil {
		return err
	}
	if _, err := r.exec(ctx, r.db, query, args); err != nil {
		return fmt.Errorf("failed to update operation %d: %w", op.ID, err)
	}
	return nil
}

func (r *LocalRepository) operations(ctx context.Context, q querier, where string, args ...any) ([]models.Operation, error) {
	rows, err := q.QueryContext(ctx, `SELECT op_id, table_name, item_id, kind, item, base_version, state, attempts,
		last_error, server_item, created_at FROM `+operationsTable+` WHERE `+where+` ORDER BY op_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var out []models.Operation
	for rows.Next() {
		var (
			op                                   models.Operation
			table, itemID, kind, state, version  []byte
			item, lastError, serverItem, created []byte
		)
		if err := rows.Scan(&op.ID, &table, &itemID, &kind, &item, &version, &state, &op.Attempts,
			&lastError, &serverItem, &created); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		op.Table = r.text(table)
		op.ItemID = r.text(itemID)
		op.Kind = models.OperationKind(strings.TrimSpace(string(kind)))
		op.State = models.OperationState(strings.TrimSpace(string(state)))
		op.LastError = r.text(lastError)
		if op.Version, err = models.ParseVersion(strings.TrimSpace(string(version))); err != nil {
			return nil, fmt.Errorf("corrupt version on operation %d: %w", op.ID, err)
		}
		if op.CreatedAt, err = parseStoredTime(string(created)); err != nil {
			return nil, fmt.Errorf("corrupt created_at on operation %d: %w", op.ID, err)
		}
		if op.Item, err = r.decodeRecord(item); err != nil {
			return nil, err
		}
		if op.ServerItem, err = r.decodeRecord(serverItem); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (r *LocalRepository) decodeRecord(b []byte) (*models.Record, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var rec models.Record
	if err := json.Unmarshal([]byte(r.text(b)), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode queued record: %w", err)
	}
	return &rec, nil
}

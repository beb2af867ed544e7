package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Guizzs26/go-datasync/internal/mapper"
	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/service"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS datasync_records (
	table_name TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version    BYTEA       NOT NULL,
	deleted    BOOLEAN     NOT NULL DEFAULT FALSE,
	data       JSONB       NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (table_name, id)
);
CREATE INDEX IF NOT EXISTS datasync_records_sync_idx ON datasync_records (table_name, updated_at, id);
`

// PostgresRepository stores every table in one JSONB backed relation.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresRepository(ctx context.Context, connString string, logger *slog.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	logger.Info("Connected to Postgres successfully")
	return &PostgresRepository{pool: p, logger: logger}, nil
}

// EnsureSchema creates the records relation when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const recordColumns = `id, updated_at, version, deleted, data`

func scanRecord(row pgx.Row) (*models.Record, error) {
	var (
		rec     models.Record
		version []byte
		data    []byte
	)
	if err := row.Scan(&rec.ID, &rec.UpdatedAt, &version, &rec.Deleted, &data); err != nil {
		return nil, err
	}
	rec.Version = models.Version(version)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if err := decodeData(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func decodeData(data []byte, rec *models.Record) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rec.Data); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
	}
	return nil
}

func encodeData(rec *models.Record) ([]byte, error) {
	if rec.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(rec.Data)
}

func (r *PostgresRepository) Read(ctx context.Context, table, id string) (*models.Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM datasync_records WHERE table_name = $1 AND id = $2`, table, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", table, id, err)
	}
	return rec, nil
}

func (r *PostgresRepository) Create(ctx context.Context, table string, rec *models.Record) error {
	data, err := encodeData(rec)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO datasync_records (table_name, id, updated_at, version, deleted, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_name, id) DO NOTHING`,
		table, rec.ID, rec.UpdatedAt, []byte(rec.Version), rec.Deleted, data)
	if err != nil {
		return fmt.Errorf("failed to insert %s/%s: %w", table, rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return service.ErrAlreadyExists
	}
	return nil
}

// Replace writes rec only while the stored version still equals expected.
// The comparison and the write are one statement.
func (r *PostgresRepository) Replace(ctx context.Context, table string, rec *models.Record, expected models.Version) error {
	data, err := encodeData(rec)
	if err != nil {
		return err
	}
	var tag pgconn.CommandTag
	if expected.IsZero() {
		tag, err = r.pool.Exec(ctx, `
			UPDATE datasync_records SET updated_at = $3, version = $4, deleted = $5, data = $6
			WHERE table_name = $1 AND id = $2`,
			table, rec.ID, rec.UpdatedAt, []byte(rec.Version), rec.Deleted, data)
	} else {
		tag, err = r.pool.Exec(ctx, `
			UPDATE datasync_records SET updated_at = $3, version = $4, deleted = $5, data = $6
			WHERE table_name = $1 AND id = $2 AND version = $7`,
			table, rec.ID, rec.UpdatedAt, []byte(rec.Version), rec.Deleted, data, []byte(expected))
	}
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", table, rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrMismatch(ctx, table, rec.ID)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, table, id string, expected models.Version) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expected.IsZero() {
		tag, err = r.pool.Exec(ctx,
			`DELETE FROM datasync_records WHERE table_name = $1 AND id = $2`, table, id)
	} else {
		tag, err = r.pool.Exec(ctx,
			`DELETE FROM datasync_records WHERE table_name = $1 AND id = $2 AND version = $3`,
			table, id, []byte(expected))
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missOrMismatch(ctx, table, id)
	}
	return nil
}

// missOrMismatch explains a conditional statement that touched no row.
func (r *PostgresRepository) missOrMismatch(ctx context.Context, table, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM datasync_records WHERE table_name = $1 AND id = $2)`,
		table, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check %s/%s: %w", table, id, err)
	}
	if !exists {
		return service.ErrNotFound
	}
	return service.ErrVersionMismatch
}

func (r *PostgresRepository) List(ctx context.Context, table string, opts service.ListOptions) ([]*models.Record, int64, error) {
	b := mapper.NewFilterBuilder(mapper.RecordColumns, table)
	where, err := b.Where(opts.Filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", service.ErrInvalidQuery, err)
	}
	orderBy, err := b.OrderBy(opts.Ordering)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", service.ErrInvalidQuery, err)
	}

	var total int64
	if opts.Count {
		err := r.pool.QueryRow(ctx,
			`SELECT count(*) FROM datasync_records WHERE table_name = $1 AND `+where, b.Args()...).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count %s: %w", table, err)
		}
	}

	sql := `SELECT ` + recordColumns + ` FROM datasync_records WHERE table_name = $1 AND ` + where
	if orderBy != "" {
		sql += ` ORDER BY ` + orderBy
	}
	args := b.Args()
	if opts.Top > 0 {
		args = append(args, opts.Top)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		sql += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	start := time.Now()
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate %s: %w", table, err)
	}

	r.logger.Debug("Listed records", "table", table, "rows", len(out), "duration", time.Since(start))
	return out, total, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/entity"
)

// SQLStore persists through database/sql. The DSN scheme picks the driver:
// postgres:// and postgresql:// use pgx, anything else is treated as a sqlite
// path (":memory:" included). Timestamps are stored as RFC3339Nano text so the
// same statements run on both engines.
type SQLStore struct {
	db *sql.DB
}

// Statements are applied one at a time; pgx's extended protocol rejects
// multi-statement scripts.
var schemaDDL = []string{`
CREATE TABLE IF NOT EXISTS templates (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	schema_json      TEXT NOT NULL,
	extraction_rules TEXT NOT NULL DEFAULT '',
	is_active        BOOLEAN NOT NULL DEFAULT TRUE,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	mode          TEXT NOT NULL,
	template_id   TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	provider      TEXT NOT NULL DEFAULT '',
	document_key  TEXT NOT NULL DEFAULT '',
	filename      TEXT NOT NULL,
	mime_type     TEXT NOT NULL,
	byte_size     BIGINT NOT NULL,
	page_count    INTEGER NOT NULL DEFAULT 0,
	timing_json   TEXT NOT NULL DEFAULT '',
	stats_json    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	started_at    TEXT NOT NULL DEFAULT '',
	completed_at  TEXT NOT NULL DEFAULT ''
)`, `
CREATE TABLE IF NOT EXISTS run_payloads (
	run_id                    TEXT PRIMARY KEY,
	md_results                TEXT NOT NULL DEFAULT '',
	layout_details_json       TEXT NOT NULL DEFAULT '',
	layout_visualization_json TEXT NOT NULL DEFAULT '',
	extracted_fields_json     TEXT NOT NULL DEFAULT '',
	raw_provider_json         TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status)`,
}

// OpenSQLStore connects, applies the schema and verifies the connection.
func OpenSQLStore(ctx context.Context, cfg common.StoreConfig) (*SQLStore, error) {
	driver := "sqlite"
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)

	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	for _, stmt := range schemaDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Runs() RunRepository            { return &sqlRuns{db: s.db} }
func (s *SQLStore) Templates() TemplateRepository  { return &sqlTemplates{db: s.db} }
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLStore) Close() error                   { return s.db.Close() }

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type sqlRuns struct {
	db *sql.DB
}

const runColumns = `id, mode, template_id, status, provider, document_key,
	filename, mime_type, byte_size, page_count, timing_json, stats_json,
	error_message, created_at, started_at, completed_at`

func scanRun(row interface{ Scan(...any) error }) (*entity.Run, error) {
	var run entity.Run
	var createdAt, startedAt, completedAt string
	err := row.Scan(
		&run.ID, &run.Mode, &run.TemplateID, &run.Status, &run.Provider,
		&run.DocumentKey, &run.Filename, &run.MimeType, &run.ByteSize,
		&run.PageCount, &run.TimingJSON, &run.StatsJSON, &run.ErrorMessage,
		&createdAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = parseTime(createdAt)
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseTime(completedAt)
	return &run, nil
}

func (r *sqlRuns) Create(ctx context.Context, run *entity.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		run.ID, run.Mode, run.TemplateID, run.Status, run.Provider,
		run.DocumentKey, run.Filename, run.MimeType, run.ByteSize,
		run.PageCount, run.TimingJSON, run.StatsJSON, run.ErrorMessage,
		fmtTime(run.CreatedAt), fmtTime(run.StartedAt), fmtTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *sqlRuns) Get(ctx context.Context, id string) (*entity.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

func (r *sqlRuns) List(ctx context.Context, filter RunFilter) ([]*entity.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var conds []string
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Mode != "" {
		args = append(args, string(filter.Mode))
		conds = append(conds, fmt.Sprintf("mode = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []*entity.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *sqlRuns) MarkProcessing(ctx context.Context, id string, provider constants.Provider) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, provider = $2, started_at = $3
		WHERE id = $4 AND status = $5`,
		constants.RunStatusProcessing, provider, fmtTime(time.Now().UTC()),
		id, constants.RunStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return r.requireTransition(ctx, res, id, constants.RunStatusProcessing)
}

func (r *sqlRuns) StorePayload(ctx context.Context, payload *entity.RunPayload) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO run_payloads
			(run_id, md_results, layout_details_json, layout_visualization_json,
			 extracted_fields_json, raw_provider_json)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (run_id) DO UPDATE SET
			md_results = EXCLUDED.md_results,
			layout_details_json = EXCLUDED.layout_details_json,
			layout_visualization_json = EXCLUDED.layout_visualization_json,
			extracted_fields_json = EXCLUDED.extracted_fields_json,
			raw_provider_json = EXCLUDED.raw_provider_json`,
		payload.RunID, payload.Markdown, payload.LayoutJSON,
		payload.VisualizationJSON, payload.ExtractedFieldsJSON, payload.RawProviderJSON,
	)
	if err != nil {
		return fmt.Errorf("store payload: %w", err)
	}
	return nil
}

func (r *sqlRuns) MarkCompleted(ctx context.Context, id string, pageCount int, timingJSON, statsJSON string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, page_count = $2, timing_json = $3,
			stats_json = $4, completed_at = $5
		WHERE id = $6 AND status = $7`,
		constants.RunStatusCompleted, pageCount, timingJSON, statsJSON,
		fmtTime(time.Now().UTC()), id, constants.RunStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return r.requireTransition(ctx, res, id, constants.RunStatusCompleted)
}

func (r *sqlRuns) MarkFailed(ctx context.Context, id string, errorMessage, timingJSON string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, error_message = $2, timing_json = $3,
			completed_at = $4
		WHERE id = $5 AND status = $6`,
		constants.RunStatusFailed, errorMessage, timingJSON,
		fmtTime(time.Now().UTC()), id, constants.RunStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return r.requireTransition(ctx, res, id, constants.RunStatusFailed)
}

// requireTransition turns a zero-row guarded UPDATE into not-found or
// conflict, depending on whether the run exists at all.
func (r *sqlRuns) requireTransition(ctx context.Context, res sql.Result, id string, to constants.RunStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return common.NewAppError("BAD_TRANSITION",
		"run "+id+" cannot transition to "+string(to), common.ErrConflict)
}

func (r *sqlRuns) GetPayload(ctx context.Context, id string) (*entity.RunPayload, error) {
	var p entity.RunPayload
	err := r.db.QueryRowContext(ctx, `
		SELECT run_id, md_results, layout_details_json, layout_visualization_json,
			extracted_fields_json, raw_provider_json
		FROM run_payloads WHERE run_id = $1`, id,
	).Scan(&p.RunID, &p.Markdown, &p.LayoutJSON, &p.VisualizationJSON,
		&p.ExtractedFieldsJSON, &p.RawProviderJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("payload for run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select payload: %w", err)
	}
	return &p, nil
}

func (r *sqlRuns) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_payloads WHERE run_id = $1`, id); err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NotFoundf("run %s not found", id)
	}
	return tx.Commit()
}

type sqlTemplates struct {
	db *sql.DB
}

func (r *sqlTemplates) Upsert(ctx context.Context, tpl *entity.Template) error {
	now := time.Now().UTC()
	existing, err := r.Get(ctx, tpl.ID)
	switch {
	case err == nil:
		tpl.CreatedAt = existing.CreatedAt
		tpl.IsActive = existing.IsActive
		tpl.UpdatedAt = now
		_, err = r.db.ExecContext(ctx, `
			UPDATE templates SET name = $1, description = $2, schema_json = $3,
				extraction_rules = $4, updated_at = $5
			WHERE id = $6`,
			tpl.Name, tpl.Description, tpl.SchemaJSON, tpl.ExtractionRules,
			fmtTime(now), tpl.ID,
		)
		if err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		return nil
	case errors.Is(err, common.ErrNotFound):
		tpl.CreatedAt = now
		tpl.UpdatedAt = now
		tpl.IsActive = true
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO templates
				(id, name, description, schema_json, extraction_rules, is_active,
				 created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			tpl.ID, tpl.Name, tpl.Description, tpl.SchemaJSON,
			tpl.ExtractionRules, tpl.IsActive, fmtTime(now), fmtTime(now),
		)
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		return nil
	default:
		return err
	}
}

func (r *sqlTemplates) Get(ctx context.Context, id string) (*entity.Template, error) {
	var tpl entity.Template
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, schema_json, extraction_rules, is_active,
			created_at, updated_at
		FROM templates WHERE id = $1`, id,
	).Scan(&tpl.ID, &tpl.Name, &tpl.Description, &tpl.SchemaJSON,
		&tpl.ExtractionRules, &tpl.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("template %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select template: %w", err)
	}
	tpl.CreatedAt = parseTime(createdAt)
	tpl.UpdatedAt = parseTime(updatedAt)
	return &tpl, nil
}

func (r *sqlTemplates) List(ctx context.Context, includeInactive bool) ([]*entity.Template, error) {
	query := `
		SELECT id, name, description, schema_json, extraction_rules, is_active,
			created_at, updated_at
		FROM templates`
	if !includeInactive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY LOWER(name)`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	out := []*entity.Template{}
	for rows.Next() {
		var tpl entity.Template
		var createdAt, updatedAt string
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Description, &tpl.SchemaJSON,
			&tpl.ExtractionRules, &tpl.IsActive, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		tpl.CreatedAt = parseTime(createdAt)
		tpl.UpdatedAt = parseTime(updatedAt)
		out = append(out, &tpl)
	}
	return out, rows.Err()
}

func (r *sqlTemplates) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE templates SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		fmtTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NotFoundf("template %s not found", id)
	}
	return nil
}

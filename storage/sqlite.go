package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"inmobiscrap/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		site_name TEXT NOT NULL,
		description TEXT,
		priority TEXT DEFAULT 'medium',
		is_active BOOLEAN DEFAULT TRUE,
		frequency_hours INTEGER DEFAULT 24,
		status TEXT DEFAULT 'pending',
		last_run_at DATETIME,
		next_run_at DATETIME,
		total_runs INTEGER DEFAULT 0,
		successful_runs INTEGER DEFAULT 0,
		failed_runs INTEGER DEFAULT 0,
		last_error TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		source_id INTEGER NOT NULL,
		status TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		elapsed_seconds REAL DEFAULT 0,
		found INTEGER DEFAULT 0,
		created INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		error TEXT,
		diagnostics JSON
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source_id INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sources_due ON sources(is_active, status, next_run_at);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_source ON scrape_runs(source_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	`
	for _, cat := range models.Categories {
		schema += schemas[cat].createTable(false)
	}
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Sources
// =============================================================================

const sourceColumns = `id, url, site_name, COALESCE(description, ''), priority, is_active, frequency_hours, status,
	last_run_at, next_run_at, total_runs, successful_runs, failed_runs, COALESCE(last_error, ''),
	created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*models.Source, error) {
	var src models.Source
	err := row.Scan(&src.ID, &src.URL, &src.SiteName, &src.Description, &src.Priority, &src.Active,
		&src.FrequencyHours, &src.Status, &src.LastRunAt, &src.NextRunAt, &src.TotalRuns,
		&src.SuccessfulRuns, &src.FailedRuns, &src.LastError, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func (s *SQLiteStore) CreateSource(src *models.Source) (int64, error) {
	now := time.Now().UTC()
	if src.Priority == "" {
		src.Priority = models.PriorityMedium
	}
	if src.Status == "" {
		src.Status = models.SourceStatusPending
	}
	if src.FrequencyHours <= 0 {
		src.FrequencyHours = 24
	}
	result, err := s.db.Exec(`
		INSERT INTO sources (url, site_name, description, priority, is_active, frequency_hours, status,
			next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.URL, src.SiteName, src.Description, src.Priority, src.Active, src.FrequencyHours, src.Status,
		utcPtr(src.NextRunAt), now, now)
	if err != nil {
		return 0, err
	}
	src.ID, err = result.LastInsertId()
	src.CreatedAt, src.UpdatedAt = now, now
	return src.ID, err
}

// EnsureSource inserts src unless a source with the same URL exists. It
// reports whether a row was created; existing rows are left untouched.
func (s *SQLiteStore) EnsureSource(src *models.Source) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM sources WHERE url = ?`, src.URL).Scan(&id)
	if err == nil {
		src.ID = id
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}
	id, err = s.CreateSource(src)
	return id, err == nil, err
}

func (s *SQLiteStore) GetSource(id int64) (*models.Source, error) {
	src, err := scanSource(s.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return src, err
}

func (s *SQLiteStore) ListSources() ([]models.Source, error) {
	return s.querySources(`SELECT ` + sourceColumns + ` FROM sources ORDER BY id`)
}

// DueSources returns active sources eligible at now, highest priority first.
func (s *SQLiteStore) DueSources(now time.Time, limit int) ([]models.Source, error) {
	candidates, err := s.querySources(`
		SELECT ` + sourceColumns + ` FROM sources
		WHERE is_active = TRUE AND status != 'in_progress'
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
			next_run_at IS NOT NULL, julianday(next_run_at), id`)
	if err != nil {
		return nil, err
	}

	var due []models.Source
	for i := range candidates {
		if !candidates[i].IsDue(now) {
			continue
		}
		due = append(due, candidates[i])
		if limit > 0 && len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *SQLiteStore) querySources(query string, args ...any) ([]models.Source, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// UpdateSource writes every mutable field of src.
func (s *SQLiteStore) UpdateSource(src *models.Source) error {
	src.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE sources SET site_name = ?, description = ?, priority = ?, is_active = ?, frequency_hours = ?,
			status = ?, last_run_at = ?, next_run_at = ?, total_runs = ?, successful_runs = ?,
			failed_runs = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		src.SiteName, src.Description, src.Priority, src.Active, src.FrequencyHours,
		src.Status, utcPtr(src.LastRunAt), utcPtr(src.NextRunAt), src.TotalRuns, src.SuccessfulRuns,
		src.FailedRuns, src.LastError, src.UpdatedAt, src.ID)
	return err
}

// SetSourceActive pauses or resumes a source. Resuming a disabled source
// puts it back to pending.
func (s *SQLiteStore) SetSourceActive(id int64, active bool) error {
	_, err := s.db.Exec(`
		UPDATE sources SET is_active = ?,
			status = CASE WHEN ? AND status = 'disabled' THEN 'pending' ELSE status END,
			updated_at = ?
		WHERE id = ?`, active, active, time.Now().UTC(), id)
	return err
}

// ResetInProgress returns in_progress sources untouched since before cutoff
// to pending. Used to reclaim sources whose worker died.
func (s *SQLiteStore) ResetInProgress(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE sources SET status = 'pending', updated_at = ?
		WHERE status = 'in_progress' AND julianday(updated_at) < julianday(?)`,
		time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ResetPending makes every enabled, idle source due immediately.
func (s *SQLiteStore) ResetPending() (int64, error) {
	result, err := s.db.Exec(`
		UPDATE sources SET status = 'pending', next_run_at = NULL, updated_at = ?
		WHERE status != 'in_progress' AND status != 'disabled'`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeactivateFailingSources disables sources that failed at least threshold
// times without a single success.
func (s *SQLiteStore) DeactivateFailingSources(threshold int) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE sources SET is_active = FALSE, status = 'disabled', updated_at = ?
		WHERE is_active = TRUE AND failed_runs >= ? AND successful_runs = 0`,
		time.Now().UTC(), threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// =============================================================================
// Runs and logs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.RunRecord) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (source_id, status, started_at, found, created, updated, failed)
		VALUES (?, ?, ?, 0, 0, 0, 0)`,
		run.SourceID, run.Status, run.StartedAt.UTC())
	if err != nil {
		return 0, err
	}
	run.ID, err = result.LastInsertId()
	return run.ID, err
}

// FinishRun writes the terminal state of a run. A run already in a terminal
// state is left alone.
func (s *SQLiteStore) FinishRun(run *models.RunRecord) error {
	var diagnostics any
	if len(run.Diagnostics) > 0 {
		diagnostics = string(run.Diagnostics)
	}
	result, err := s.db.Exec(`
		UPDATE scrape_runs SET status = ?, finished_at = ?, elapsed_seconds = ?, found = ?,
			created = ?, updated = ?, failed = ?, error = ?, diagnostics = ?
		WHERE id = ? AND status = 'started'`,
		run.Status, utcPtr(run.FinishedAt), run.ElapsedSeconds, run.Found,
		run.Created, run.Updated, run.Failed, run.Error, diagnostics, run.ID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %d is not open", run.ID)
	}
	return nil
}

const runColumns = `id, source_id, status, started_at, finished_at, elapsed_seconds, found, created, updated,
	failed, COALESCE(error, ''), diagnostics`

func scanRun(row scanner) (*models.RunRecord, error) {
	var run models.RunRecord
	var diagnostics sql.NullString
	err := row.Scan(&run.ID, &run.SourceID, &run.Status, &run.StartedAt, &run.FinishedAt, &run.ElapsedSeconds,
		&run.Found, &run.Created, &run.Updated, &run.Failed, &run.Error, &diagnostics)
	if err != nil {
		return nil, err
	}
	if diagnostics.Valid {
		run.Diagnostics = json.RawMessage(diagnostics.String)
	}
	return &run, nil
}

func (s *SQLiteStore) GetRun(id int64) (*models.RunRecord, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM scrape_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns the most recent runs of a source, newest first.
func (s *SQLiteStore) ListRuns(sourceID int64, limit int) ([]models.RunRecord, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM scrape_runs WHERE source_id = ?
		ORDER BY id DESC LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message string, sourceID int64) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, source_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), level, message, sourceID)
	return err
}

func (s *SQLiteStore) RunLogs(runID int64) ([]models.ScrapeLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, source_id
		FROM scrape_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ScrapeLog
	for rows.Next() {
		var l models.ScrapeLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.SourceID); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteRunsBefore drops finished runs and all logs older than cutoff.
func (s *SQLiteStore) DeleteRunsBefore(cutoff time.Time) (runs int64, logs int64, err error) {
	cutoff = cutoff.UTC()
	result, err := s.db.Exec(`DELETE FROM scrape_logs WHERE julianday(timestamp) < julianday(?)`, cutoff)
	if err != nil {
		return 0, 0, err
	}
	logs, _ = result.RowsAffected()

	result, err = s.db.Exec(`
		DELETE FROM scrape_runs
		WHERE julianday(started_at) < julianday(?) AND status != 'started'`, cutoff)
	if err != nil {
		return 0, logs, err
	}
	runs, _ = result.RowsAffected()
	return runs, logs, nil
}

// =============================================================================
// Properties
// =============================================================================

func jsonList(items []string) any {
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// UpsertProperty writes p into its category table keyed by
// (external_code, site_name). Every scraped column is overwritten; is_active
// keeps whatever value the row already has.
func (s *SQLiteStore) UpsertProperty(ctx context.Context, p *models.NormalizedProperty) (bool, error) {
	schema, err := schemaFor(p.Category)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var id string
	var createdAt time.Time
	var active bool
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, created_at, is_active FROM %s WHERE external_code = ? AND site_name = ?`, schema.table),
		p.ExternalCode, p.SiteName).Scan(&id, &createdAt, &active)

	now := time.Now().UTC()
	values := append(commonValues(p, jsonList), detailValues(p)...)
	names := schema.columnNames()
	created := false

	switch {
	case err == sql.ErrNoRows:
		p.ID = uuid.New()
		p.CreatedAt, p.UpdatedAt = now, now
		query := fmt.Sprintf(`INSERT INTO %s (id, %s, created_at, updated_at) VALUES (?, %s, ?, ?)`,
			schema.table, strings.Join(names, ", "), placeholders(len(names), false))
		args := append([]any{p.ID.String()}, values...)
		if _, err := tx.ExecContext(ctx, query, append(args, now, now)...); err != nil {
			return false, err
		}
		created = true
	case err != nil:
		return false, err
	default:
		p.ID, err = uuid.Parse(id)
		if err != nil {
			return false, fmt.Errorf("stored id %q: %w", id, err)
		}
		p.CreatedAt, p.UpdatedAt, p.Active = createdAt, now, active
		sets := make([]string, 0, len(names))
		args := make([]any, 0, len(values)+2)
		for i, name := range names {
			if insertOnly[name] {
				continue
			}
			sets = append(sets, name+" = ?")
			args = append(args, values[i])
		}
		query := fmt.Sprintf(`UPDATE %s SET %s, updated_at = ? WHERE id = ?`, schema.table, strings.Join(sets, ", "))
		if _, err := tx.ExecContext(ctx, query, append(args, now, id)...); err != nil {
			return false, err
		}
	}

	return created, tx.Commit()
}

// GetProperty loads one property by its upsert key, nil when absent.
func (s *SQLiteStore) GetProperty(ctx context.Context, cat models.Category, code, site string) (*models.NormalizedProperty, error) {
	schema, err := schemaFor(cat)
	if err != nil {
		return nil, err
	}

	p := &models.NormalizedProperty{Category: cat}
	var id, amenities, images string
	targets := []any{&id,
		&p.Title, &p.Description, &p.Price, &p.PriceUF, &p.Operation,
		&p.Area, &p.LandArea, &p.Rooms, &p.Baths, &p.Parking,
		&p.Address, &p.Commune, &p.City, &p.Region, &amenities, &images,
		&p.SourceID, &p.SourceURL, &p.SiteName, &p.ExternalCode,
		&p.ContactName, &p.ContactPhone, &p.ContactEmail, &p.Agency, &p.Active,
	}
	targets = append(targets, detailTargets(p)...)
	targets = append(targets, &p.CreatedAt, &p.UpdatedAt)

	query := fmt.Sprintf(`SELECT id, %s, created_at, updated_at FROM %s WHERE external_code = ? AND site_name = ?`,
		strings.Join(schema.columnNames(), ", "), schema.table)
	err = s.db.QueryRowContext(ctx, query, code, site).Scan(targets...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(amenities), &p.Amenities)
	_ = json.Unmarshal([]byte(images), &p.Images)
	return p, nil
}

func (s *SQLiteStore) CountProperties(ctx context.Context, cat models.Category) (int, error) {
	table, err := TableFor(cat)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, err
}

// Stats aggregates every category table.
func (s *SQLiteStore) Stats(ctx context.Context) ([]models.CategoryStats, error) {
	stats := make([]models.CategoryStats, 0, len(models.Categories))
	for _, cat := range models.Categories {
		st := models.CategoryStats{Category: cat}
		err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0),
				COALESCE(AVG(NULLIF(price, 0)), 0)
			FROM %s`, schemas[cat].table)).Scan(&st.Count, &st.ActiveCount, &st.AveragePrice)
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", cat, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// TopCommunes counts properties per commune across all categories.
func (s *SQLiteStore) TopCommunes(ctx context.Context, limit int) ([]models.CommuneCount, error) {
	parts := make([]string, 0, len(models.Categories))
	for _, cat := range models.Categories {
		parts = append(parts, "SELECT commune FROM "+schemas[cat].table)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT commune, COUNT(*) FROM (`+strings.Join(parts, " UNION ALL ")+`)
		WHERE commune IS NOT NULL AND commune != ''
		GROUP BY commune ORDER BY COUNT(*) DESC, commune LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CommuneCount
	for rows.Next() {
		var c models.CommuneCount
		if err := rows.Scan(&c.Commune, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var raw any
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		cmd, raw, time.Now().UTC())
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &cmd.ProcessedAt); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	if cmd.Params == nil || string(cmd.Params) == "null" {
		return &models.CommandParams{}, nil
	}
	var params models.CommandParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

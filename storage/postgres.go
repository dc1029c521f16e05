package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inmobiscrap/models"
)

// PostgresStore holds the category tables when a domain database is
// configured. Operational state (sources, runs, logs) stays in SQLite.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Migrate creates the category tables if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, cat := range models.Categories {
		if _, err := s.pool.Exec(ctx, schemas[cat].createTable(true)); err != nil {
			return fmt.Errorf("migrate %s: %w", schemas[cat].table, err)
		}
	}
	return nil
}

func textArray(items []string) any {
	return items
}

// upsertQuery builds the INSERT ... ON CONFLICT statement for one table.
// xmax is zero only for freshly inserted tuples.
func upsertQuery(schema categorySchema) string {
	names := schema.columnNames()
	sets := make([]string, 0, len(names)+1)
	for _, name := range names {
		if insertOnly[name] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", name, name))
	}
	sets = append(sets, "updated_at = EXCLUDED.updated_at")

	n := len(names)
	return fmt.Sprintf(`
		INSERT INTO %s (id, %s, created_at, updated_at)
		VALUES ($1, %s, $%d, $%d)
		ON CONFLICT (external_code, site_name) DO UPDATE SET
			%s
		RETURNING id, created_at, is_active, (xmax = 0) AS inserted`,
		schema.table, strings.Join(names, ", "),
		shiftedPlaceholders(n, 2), n+2, n+3,
		strings.Join(sets, ",\n\t\t\t"))
}

func shiftedPlaceholders(n, from int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func (s *PostgresStore) UpsertProperty(ctx context.Context, p *models.NormalizedProperty) (bool, error) {
	schema, err := schemaFor(p.Category)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	args := []any{id}
	args = append(args, commonValues(p, textArray)...)
	args = append(args, detailValues(p)...)
	args = append(args, now, now)

	var inserted bool
	err = s.pool.QueryRow(ctx, upsertQuery(schema), args...).Scan(&p.ID, &p.CreatedAt, &p.Active, &inserted)
	if err != nil {
		return false, err
	}
	p.UpdatedAt = now
	return inserted, nil
}

func (s *PostgresStore) GetPropertyID(ctx context.Context, cat models.Category, code, site string) (*uuid.UUID, error) {
	table, err := TableFor(cat)
	if err != nil {
		return nil, err
	}
	var id uuid.UUID
	err = s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE external_code = $1 AND site_name = $2`, table),
		code, site).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *PostgresStore) CountProperties(ctx context.Context, cat models.Category) (int, error) {
	table, err := TableFor(cat)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, err
}

func (s *PostgresStore) Stats(ctx context.Context) ([]models.CategoryStats, error) {
	stats := make([]models.CategoryStats, 0, len(models.Categories))
	for _, cat := range models.Categories {
		st := models.CategoryStats{Category: cat}
		err := s.pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active),
				COALESCE(AVG(NULLIF(price, 0)), 0)::float8
			FROM %s`, schemas[cat].table)).Scan(&st.Count, &st.ActiveCount, &st.AveragePrice)
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", cat, err)
		}
		stats = append(stats, st)
	}
	return stats, nil
}

func (s *PostgresStore) TopCommunes(ctx context.Context, limit int) ([]models.CommuneCount, error) {
	parts := make([]string, 0, len(models.Categories))
	for _, cat := range models.Categories {
		parts = append(parts, "SELECT commune FROM "+schemas[cat].table)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT commune, COUNT(*) FROM (`+strings.Join(parts, " UNION ALL ")+`) AS all_props
		WHERE commune IS NOT NULL AND commune <> ''
		GROUP BY commune ORDER BY COUNT(*) DESC, commune LIMIT $1`, limit)
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

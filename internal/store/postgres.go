package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

// Pool abstracts the pgx pool surface the store uses, so unit tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	discovered  INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS items (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	external_id   TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL DEFAULT '',
	employer      TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL UNIQUE,
	description   TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	salary_min    DOUBLE PRECISION NOT NULL DEFAULT 0,
	salary_max    DOUBLE PRECISION NOT NULL DEFAULT 0,
	posted_at     TIMESTAMPTZ,
	status        TEXT NOT NULL DEFAULT 'new',
	score         DOUBLE PRECISION,
	rationale     TEXT NOT NULL DEFAULT '',
	sponsor_match TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_score ON items(score);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, discovered, processed, error, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Status), run.Discovered, run.Processed, run.Error, run.StartedAt,
	)
	return eris.Wrap(err, "postgres: create run")
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, discovered = $2, processed = $3, error = $4, finished_at = $5 WHERE id = $6`,
		string(run.Status), run.Discovered, run.Processed, run.Error, run.FinishedAt, run.ID,
	)
	return eris.Wrap(err, "postgres: finish run")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, discovered, processed, error, started_at, finished_at FROM runs WHERE id = $1`, runID)
	return scanPgRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, discovered, processed, error, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var run model.Run
	var status string
	var finished *time.Time
	err := row.Scan(&run.ID, &status, &run.Discovered, &run.Processed, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	run.Status = model.RunStatus(status)
	run.FinishedAt = finished
	return &run, nil
}

func (s *PostgresStore) GetAllKnownURLs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT url FROM items`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: known urls")
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "postgres: scan url")
		}
		urls = append(urls, u)
	}
	return urls, eris.Wrap(rows.Err(), "postgres: known urls")
}

func (s *PostgresStore) CreateItems(ctx context.Context, items []model.DiscoveredItem) (CreateResult, error) {
	var result CreateResult
	for _, item := range items {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO items (id, source, external_id, title, employer, url, description, location, salary_min, salary_max, posted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (url) DO NOTHING`,
			uuid.NewString(), item.Source, item.ExternalID, item.Title, item.Employer, item.URL,
			item.Description, item.Location, item.SalaryMin, item.SalaryMax, item.PostedAt,
		)
		if err != nil {
			return result, eris.Wrap(err, "postgres: insert item")
		}
		if tag.RowsAffected() > 0 {
			result.Created++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

func (s *PostgresStore) GetUnscoredItems(ctx context.Context) ([]model.ScoredItem, error) {
	scored := false
	return s.ListItems(ctx, ItemFilter{Scored: &scored})
}

func (s *PostgresStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.ScoredItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var conds []string
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Scored != nil {
		if *filter.Scored {
			conds = append(conds, "score IS NOT NULL")
		} else {
			conds = append(conds, "score IS NULL")
		}
	}
	if filter.MinScore != nil {
		args = append(args, *filter.MinScore)
		conds = append(conds, fmt.Sprintf("score >= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.OrderByScore {
		query += " ORDER BY score DESC"
	} else {
		query += " ORDER BY created_at ASC"
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.ScoredItem
	for rows.Next() {
		item, err := scanPgItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items")
}

func scanPgItem(row pgx.Row) (*model.ScoredItem, error) {
	var item model.ScoredItem
	var status string
	var score *float64
	var posted *time.Time
	err := row.Scan(
		&item.ID, &item.Source, &item.ExternalID, &item.Title, &item.Employer, &item.URL,
		&item.Description, &item.Location, &item.SalaryMin, &item.SalaryMax, &posted,
		&status, &score, &item.Rationale, &item.SponsorMatch,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan item")
	}
	item.Status = model.ItemStatus(status)
	item.Score = score
	item.PostedAt = posted
	return &item, nil
}

func (s *PostgresStore) UpdateItem(ctx context.Context, itemID string, update ItemUpdate) error {
	if update.IsZero() {
		return nil
	}

	var sets []string
	var args []any
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if update.Score != nil {
		add("score", *update.Score)
	}
	if update.Rationale != nil {
		add("rationale", *update.Rationale)
	}
	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.SponsorMatch != nil {
		add("sponsor_match", *update.SponsorMatch)
	}
	args = append(args, itemID)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE items SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)), args...)
	if err != nil {
		return eris.Wrap(err, "postgres: update item")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: item %s not found", itemID)
	}
	return nil
}

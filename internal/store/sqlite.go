package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	discovered  INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
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
	salary_min    REAL NOT NULL DEFAULT 0,
	salary_max    REAL NOT NULL DEFAULT 0,
	posted_at     DATETIME,
	status        TEXT NOT NULL DEFAULT 'new',
	score         REAL,
	rationale     TEXT NOT NULL DEFAULT '',
	sponsor_match TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_score ON items(score);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, discovered, processed, error, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Discovered, run.Processed, run.Error, run.StartedAt,
	)
	return eris.Wrap(err, "sqlite: create run")
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, discovered = ?, processed = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), run.Discovered, run.Processed, run.Error, run.FinishedAt, run.ID,
	)
	return eris.Wrap(err, "sqlite: finish run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, discovered, processed, error, started_at, finished_at FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, discovered, processed, error, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var status string
	var finished sql.NullTime
	err := row.Scan(&run.ID, &status, &run.Discovered, &run.Processed, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}
	run.Status = model.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func (s *SQLiteStore) GetAllKnownURLs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM items`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: known urls")
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan url")
		}
		urls = append(urls, u)
	}
	return urls, eris.Wrap(rows.Err(), "sqlite: known urls")
}

func (s *SQLiteStore) CreateItems(ctx context.Context, items []model.DiscoveredItem) (CreateResult, error) {
	var result CreateResult
	for _, item := range items {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO items (id, source, external_id, title, employer, url, description, location, salary_min, salary_max, posted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(url) DO NOTHING`,
			uuid.NewString(), item.Source, item.ExternalID, item.Title, item.Employer, item.URL,
			item.Description, item.Location, item.SalaryMin, item.SalaryMax, item.PostedAt,
		)
		if err != nil {
			return result, eris.Wrap(err, "sqlite: insert item")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return result, eris.Wrap(err, "sqlite: rows affected")
		}
		if n > 0 {
			result.Created++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

const itemColumns = `id, source, external_id, title, employer, url, description, location, salary_min, salary_max, posted_at, status, score, rationale, sponsor_match`

func (s *SQLiteStore) GetUnscoredItems(ctx context.Context) ([]model.ScoredItem, error) {
	scored := false
	return s.ListItems(ctx, ItemFilter{Scored: &scored})
}

func (s *SQLiteStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.ScoredItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var conds []string
	var args []any

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Scored != nil {
		if *filter.Scored {
			conds = append(conds, "score IS NOT NULL")
		} else {
			conds = append(conds, "score IS NULL")
		}
	}
	if filter.MinScore != nil {
		conds = append(conds, "score >= ?")
		args = append(args, *filter.MinScore)
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

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	var items []model.ScoredItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items")
}

func scanItem(row rowScanner) (*model.ScoredItem, error) {
	var item model.ScoredItem
	var status string
	var score sql.NullFloat64
	var posted sql.NullTime
	err := row.Scan(
		&item.ID, &item.Source, &item.ExternalID, &item.Title, &item.Employer, &item.URL,
		&item.Description, &item.Location, &item.SalaryMin, &item.SalaryMax, &posted,
		&status, &score, &item.Rationale, &item.SponsorMatch,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan item")
	}
	item.Status = model.ItemStatus(status)
	if score.Valid {
		v := score.Float64
		item.Score = &v
	}
	if posted.Valid {
		t := posted.Time
		item.PostedAt = &t
	}
	return &item, nil
}

func (s *SQLiteStore) UpdateItem(ctx context.Context, itemID string, update ItemUpdate) error {
	if update.IsZero() {
		return nil
	}

	var sets []string
	var args []any
	if update.Score != nil {
		sets = append(sets, "score = ?")
		args = append(args, *update.Score)
	}
	if update.Rationale != nil {
		sets = append(sets, "rationale = ?")
		args = append(args, *update.Rationale)
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.SponsorMatch != nil {
		sets = append(sets, "sponsor_match = ?")
		args = append(args, *update.SponsorMatch)
	}
	args = append(args, itemID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: update item")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: item %s not found", itemID)
	}
	return nil
}

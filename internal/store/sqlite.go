package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/resilience"
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
CREATE TABLE IF NOT EXISTS provider_quotas (
	provider_id TEXT PRIMARY KEY,
	used        INTEGER NOT NULL DEFAULT 0,
	quota_limit INTEGER NOT NULL DEFAULT 0,
	last_reset  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS request_log (
	id           TEXT PRIMARY KEY,
	query        TEXT NOT NULL,
	unrestricted INTEGER NOT NULL DEFAULT 0,
	path         TEXT NOT NULL,
	result       TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS curation_dead_letters (
	id            TEXT PRIMARY KEY,
	target        TEXT NOT NULL,
	title         TEXT NOT NULL,
	source_marker TEXT NOT NULL,
	payload       TEXT NOT NULL,
	error         TEXT NOT NULL,
	error_type    TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_log_created_at ON request_log(created_at);
CREATE INDEX IF NOT EXISTS idx_request_log_path ON request_log(path);
CREATE INDEX IF NOT EXISTS idx_curation_dead_letters_created_at ON curation_dead_letters(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadQuotas(ctx context.Context) ([]model.QuotaState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_id, used, quota_limit, last_reset FROM provider_quotas ORDER BY provider_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load quotas")
	}
	defer rows.Close()

	var out []model.QuotaState
	for rows.Next() {
		var q model.QuotaState
		if err := rows.Scan(&q.ProviderID, &q.Used, &q.Limit, &q.LastReset); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quota")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load quotas iterate")
}

func (s *SQLiteStore) UpsertQuota(ctx context.Context, q model.QuotaState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_quotas (provider_id, used, quota_limit, last_reset, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (provider_id) DO UPDATE SET
		   used = excluded.used,
		   quota_limit = excluded.quota_limit,
		   last_reset = excluded.last_reset,
		   updated_at = excluded.updated_at`,
		q.ProviderID, q.Used, q.Limit, q.LastReset.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert quota %s", q.ProviderID)
}

func (s *SQLiteStore) LogRequest(ctx context.Context, entry model.RequestLog) error {
	if entry.Result == nil {
		return eris.New("sqlite: log request: nil result")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal request result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO request_log (id, query, unrestricted, path, result, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Query, entry.Unrestricted, string(entry.Result.Path), string(resultJSON), entry.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert request %s", entry.ID)
}

func (s *SQLiteStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.RequestLog, error) {
	query := `SELECT id, query, unrestricted, result, created_at FROM request_log WHERE 1=1`
	var args []any

	if filter.Path != "" {
		query += ` AND path = ?`
		args = append(args, string(filter.Path))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close()

	var out []model.RequestLog
	for rows.Next() {
		var (
			entry      model.RequestLog
			resultJSON string
		)
		if err := rows.Scan(&entry.ID, &entry.Query, &entry.Unrestricted, &resultJSON, &entry.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request")
		}
		entry.Result = &model.FallbackResult{}
		if err := json.Unmarshal([]byte(resultJSON), entry.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal request result")
		}
		out = append(out, entry)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list requests iterate")
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO curation_dead_letters (id, target, title, source_marker, payload, error, error_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Target, entry.Title, entry.SourceMarker, string(payload),
		entry.Error, entry.ErrorType, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, target, title, source_marker, payload, error, error_type, created_at
	          FROM curation_dead_letters WHERE 1=1`
	var args []any
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var (
			e       resilience.DLQEntry
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Target, &e.Title, &e.SourceMarker, &payload,
			&e.Error, &e.ErrorType, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM curation_dead_letters WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: remove dlq %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM curation_dead_letters`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count dlq")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

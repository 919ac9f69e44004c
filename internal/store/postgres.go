package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/genroute/internal/db"
	"github.com/sells-group/genroute/internal/model"
	"github.com/sells-group/genroute/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection. Quota upserts run
// once per successful generation so they dominate write traffic.
var preparedStatements = map[string]string{
	"upsert_quota": upsertQuotaSQL,
	"load_quotas":  `SELECT provider_id, used, quota_limit, last_reset FROM provider_quotas ORDER BY provider_id`,
	"insert_request": `INSERT INTO request_log (id, query, unrestricted, path, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
}

const upsertQuotaSQL = `INSERT INTO provider_quotas (provider_id, used, quota_limit, last_reset, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (provider_id) DO UPDATE SET
		used = EXCLUDED.used,
		quota_limit = EXCLUDED.quota_limit,
		last_reset = EXCLUDED.last_reset,
		updated_at = EXCLUDED.updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS provider_quotas (
	provider_id TEXT PRIMARY KEY,
	used        INTEGER NOT NULL DEFAULT 0,
	quota_limit INTEGER NOT NULL DEFAULT 0,
	last_reset  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS request_log (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	query        TEXT NOT NULL,
	unrestricted BOOLEAN NOT NULL DEFAULT false,
	path         TEXT NOT NULL,
	result       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS curation_dead_letters (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	target        TEXT NOT NULL,
	title         TEXT NOT NULL,
	source_marker TEXT NOT NULL,
	payload       JSONB NOT NULL,
	error         TEXT NOT NULL,
	error_type    TEXT NOT NULL DEFAULT 'transient',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_request_log_created_at ON request_log(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_request_log_path ON request_log(path);
CREATE INDEX IF NOT EXISTS idx_curation_dead_letters_error_type ON curation_dead_letters(error_type);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LoadQuotas(ctx context.Context) ([]model.QuotaState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT provider_id, used, quota_limit, last_reset FROM provider_quotas ORDER BY provider_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load quotas")
	}
	defer rows.Close()

	var out []model.QuotaState
	for rows.Next() {
		var q model.QuotaState
		if err := rows.Scan(&q.ProviderID, &q.Used, &q.Limit, &q.LastReset); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quota")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load quotas iterate")
}

func (s *PostgresStore) UpsertQuota(ctx context.Context, q model.QuotaState) error {
	_, err := s.pool.Exec(ctx, upsertQuotaSQL,
		q.ProviderID, q.Used, q.Limit, q.LastReset.UTC(), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert quota %s", q.ProviderID)
}

func (s *PostgresStore) LogRequest(ctx context.Context, entry model.RequestLog) error {
	if entry.Result == nil {
		return eris.New("postgres: log request: nil result")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	resultJSON, err := json.Marshal(entry.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal request result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO request_log (id, query, unrestricted, path, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.Query, entry.Unrestricted, string(entry.Result.Path), resultJSON, entry.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert request %s", entry.ID)
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.RequestLog, error) {
	query := `SELECT id, query, unrestricted, result, created_at FROM request_log WHERE 1=1`
	var args []any
	argN := 1

	if filter.Path != "" {
		query += fmt.Sprintf(` AND path = $%d`, argN)
		args = append(args, string(filter.Path))
		argN++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argN)
		args = append(args, filter.Since.UTC())
		argN++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argN)
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	defer rows.Close()

	var out []model.RequestLog
	for rows.Next() {
		var (
			entry      model.RequestLog
			resultJSON []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Query, &entry.Unrestricted, &resultJSON, &entry.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		entry.Result = &model.FallbackResult{}
		if err := json.Unmarshal(resultJSON, entry.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal request result")
		}
		out = append(out, entry)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list requests iterate")
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO curation_dead_letters (id, target, title, source_marker, payload, error, error_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.Target, entry.Title, entry.SourceMarker, []byte(payload),
		entry.Error, entry.ErrorType, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, target, title, source_marker, payload, error, error_type, created_at
	          FROM curation_dead_letters WHERE 1=1`
	var args []any
	argN := 1
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argN)
		args = append(args, filter.ErrorType)
		argN++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argN)
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var (
			e       resilience.DLQEntry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.Target, &e.Title, &e.SourceMarker, &payload,
			&e.Error, &e.ErrorType, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM curation_dead_letters WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: remove dlq %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: dlq entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM curation_dead_letters`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count dlq")
}

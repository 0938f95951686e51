package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"domainwatch/internal/models"
	"domainwatch/internal/storage"
)

// PostgresStore implements the storage.Storer interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ storage.Storer = (*PostgresStore)(nil)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// New creates a new PostgresStore and establishes a connection to the database.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	store := &PostgresStore{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// migrate ensures the database schema is created.
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS endpoints (
		id         TEXT PRIMARY KEY,
		hostname   TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS checks (
		id               BIGSERIAL PRIMARY KEY,
		endpoint_id      TEXT NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
		status           TEXT NOT NULL,
		response_time_ms BIGINT,
		status_code      INTEGER,
		error            TEXT,
		checked_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_checks_endpoint_checked_at ON checks (endpoint_id, checked_at DESC);
	CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON checks (checked_at);

	CREATE TABLE IF NOT EXISTS webhooks (
		id               TEXT PRIMARY KEY,
		url              TEXT NOT NULL,
		secret           TEXT NOT NULL,
		events           TEXT[] NOT NULL DEFAULT '{}',
		enabled          BOOLEAN NOT NULL DEFAULT TRUE,
		last_status      INTEGER,
		failure_count    INTEGER NOT NULL DEFAULT 0,
		last_delivery_at TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id              BIGSERIAL PRIMARY KEY,
		webhook_id      TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
		delivery_id     TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		payload         TEXT NOT NULL,
		response_status INTEGER,
		response_body   TEXT NOT NULL DEFAULT '',
		success         BOOLEAN NOT NULL,
		attempt_number  INTEGER NOT NULL,
		error           TEXT,
		occurred_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook ON webhook_deliveries (webhook_id, occurred_at DESC);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

func randomID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + time.Now().UTC().Format("20060102150405")
	}
	return prefix + hex.EncodeToString(b)
}

// CreateEndpoint implements the Storer interface.
func (s *PostgresStore) CreateEndpoint(ctx context.Context, endpoint *models.Endpoint) (*models.Endpoint, error) {
	if endpoint.ID == "" {
		endpoint.ID = randomID("d_")
	}
	if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `INSERT INTO endpoints (id, hostname, created_at) VALUES ($1, $2, $3) ON CONFLICT (hostname) DO NOTHING`,
		endpoint.ID, endpoint.Hostname, endpoint.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var existing models.Endpoint
		err := s.db.QueryRow(ctx, `SELECT id, hostname, created_at FROM endpoints WHERE hostname = $1`, endpoint.Hostname).
			Scan(&existing.ID, &existing.Hostname, &existing.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve existing endpoint: %w", err)
		}
		return &existing, storage.ErrDuplicateKey
	}
	return endpoint, nil
}

// GetEndpoint implements the Storer interface.
func (s *PostgresStore) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	var e models.Endpoint
	err := s.db.QueryRow(ctx, `SELECT id, hostname, created_at FROM endpoints WHERE id = $1`, id).Scan(&e.ID, &e.Hostname, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint by id: %w", err)
	}
	return &e, nil
}

// ListEndpoints implements the Storer interface.
func (s *PostgresStore) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	rows, err := s.db.Query(ctx, `SELECT id, hostname, created_at FROM endpoints ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		var e models.Endpoint
		if err := rows.Scan(&e.ID, &e.Hostname, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint row: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// CreateCheck implements the Storer interface.
func (s *PostgresStore) CreateCheck(ctx context.Context, check *models.Check) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO checks (endpoint_id, status, response_time_ms, status_code, error, checked_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		check.EndpointID, string(check.Status), check.ResponseTimeMS, check.StatusCode, check.Error, check.CheckedAt,
	).Scan(&check.ID)
	if err != nil {
		return fmt.Errorf("failed to create check: %w", err)
	}
	return nil
}

const checkColumns = `id, endpoint_id, status, response_time_ms, status_code, error, checked_at`

func scanCheck(rows pgx.Rows) (models.Check, error) {
	var c models.Check
	var status string
	if err := rows.Scan(&c.ID, &c.EndpointID, &status, &c.ResponseTimeMS, &c.StatusCode, &c.Error, &c.CheckedAt); err != nil {
		return c, fmt.Errorf("failed to scan check row: %w", err)
	}
	c.Status = models.CheckStatus(status)
	return c, nil
}

// ListChecks implements the Storer interface.
func (s *PostgresStore) ListChecks(ctx context.Context, params storage.ListChecksParams) ([]models.Check, error) {
	args := []any{params.EndpointID}
	qb := strings.Builder{}
	qb.WriteString("SELECT " + checkColumns + " FROM checks WHERE endpoint_id = $1")
	if params.Since != nil {
		args = append(args, *params.Since)
		qb.WriteString(" AND checked_at > $2")
	}
	args = append(args, params.Limit)
	fmt.Fprintf(&qb, " ORDER BY checked_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer rows.Close()

	var checks []models.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// SummarizeChecks implements the Storer interface. The reads share one
// repeatable-read snapshot.
func (s *PostgresStore) SummarizeChecks(ctx context.Context, endpointIDs []string, recent int) (map[string]models.CheckSummary, error) {
	out := make(map[string]models.CheckSummary, len(endpointIDs))
	for _, id := range endpointIDs {
		out[id] = models.CheckSummary{EndpointID: id}
	}
	if len(endpointIDs) == 0 {
		return out, nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
	SELECT endpoint_id,
	       COUNT(*),
	       COUNT(*) FILTER (WHERE status = 'up'),
	       AVG(response_time_ms) FILTER (WHERE status = 'up')
	FROM checks WHERE endpoint_id = ANY($1) GROUP BY endpoint_id`, endpointIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate checks: %w", err)
	}
	for rows.Next() {
		var id string
		var total, successful int
		var avg *float64
		if err := rows.Scan(&id, &total, &successful, &avg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		sum := out[id]
		sum.TotalChecks = total
		sum.SuccessfulChecks = successful
		sum.AvgResponseTimeMS = avg
		out[id] = sum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if recent > 0 {
		rows, err = tx.Query(ctx, `
		SELECT `+checkColumns+` FROM (
			SELECT `+checkColumns+`,
			       ROW_NUMBER() OVER (PARTITION BY endpoint_id ORDER BY checked_at DESC, id DESC) AS rn
			FROM checks WHERE endpoint_id = ANY($1)
		) ranked WHERE rn <= $2 ORDER BY endpoint_id, checked_at DESC, id DESC`, endpointIDs, recent)
		if err != nil {
			return nil, fmt.Errorf("failed to query recent checks: %w", err)
		}
		for rows.Next() {
			c, err := scanCheck(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			sum := out[c.EndpointID]
			sum.Recent = append(sum.Recent, c)
			out[c.EndpointID] = sum
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	streaks, err := consecutiveFailures(ctx, tx, endpointIDs)
	if err != nil {
		return nil, err
	}
	for id, n := range streaks {
		sum := out[id]
		sum.ConsecutiveFailures = n
		out[id] = sum
	}
	return out, tx.Commit(ctx)
}

// ChecksSince implements the Storer interface.
func (s *PostgresStore) ChecksSince(ctx context.Context, endpointIDs []string, since time.Time) (map[string][]models.Check, error) {
	out := make(map[string][]models.Check, len(endpointIDs))
	if len(endpointIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+checkColumns+` FROM checks
	WHERE endpoint_id = ANY($1) AND checked_at >= $2 ORDER BY endpoint_id, checked_at, id`, endpointIDs, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query checks since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out[c.EndpointID] = append(out[c.EndpointID], c)
	}
	return out, rows.Err()
}

// ConsecutiveFailures implements the Storer interface.
func (s *PostgresStore) ConsecutiveFailures(ctx context.Context, endpointIDs []string) (map[string]int, error) {
	return consecutiveFailures(ctx, s.db, endpointIDs)
}

func consecutiveFailures(ctx context.Context, q querier, endpointIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(endpointIDs))
	for _, id := range endpointIDs {
		out[id] = 0
	}
	if len(endpointIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
	SELECT c.endpoint_id, COUNT(*) FROM checks c
	WHERE c.endpoint_id = ANY($1) AND c.status = 'down'
	  AND NOT EXISTS (
		SELECT 1 FROM checks u
		WHERE u.endpoint_id = c.endpoint_id AND u.status = 'up'
		  AND (u.checked_at, u.id) > (c.checked_at, c.id)
	  )
	GROUP BY c.endpoint_id`, endpointIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count consecutive failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan failure count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// DeleteChecksBefore implements the Storer interface.
func (s *PostgresStore) DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM checks WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old checks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateWebhook implements the Storer interface.
func (s *PostgresStore) CreateWebhook(ctx context.Context, webhook *models.Webhook) (*models.Webhook, error) {
	if webhook.ID == "" {
		webhook.ID = randomID("wh_")
	}
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = time.Now().UTC()
	}
	events := webhook.Events
	if events == nil {
		events = []string{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO webhooks (id, url, secret, events, enabled, failure_count, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		webhook.ID, webhook.URL, webhook.Secret, events, webhook.Enabled, webhook.FailureCount, webhook.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert webhook: %w", err)
	}
	return webhook, nil
}

const webhookColumns = `id, url, secret, events, enabled, last_status, failure_count, last_delivery_at, created_at`

func scanWebhook(row pgx.Row) (models.Webhook, error) {
	var w models.Webhook
	err := row.Scan(&w.ID, &w.URL, &w.Secret, &w.Events, &w.Enabled, &w.LastStatus, &w.FailureCount, &w.LastDeliveryAt, &w.CreatedAt)
	return w, err
}

// GetWebhook implements the Storer interface.
func (s *PostgresStore) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	w, err := scanWebhook(s.db.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook by id: %w", err)
	}
	return &w, nil
}

// ListWebhooksForEvent implements the Storer interface.
func (s *PostgresStore) ListWebhooksForEvent(ctx context.Context, eventType string) ([]models.Webhook, error) {
	rows, err := s.db.Query(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE enabled AND $1 = ANY(events) ORDER BY created_at, id`, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []models.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook row: %w", err)
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// RecordWebhookResult implements the Storer interface.
func (s *PostgresStore) RecordWebhookResult(ctx context.Context, id string, status *int, success bool, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE webhooks SET last_status = $1, last_delivery_at = $2,
		failure_count = CASE WHEN $3 THEN 0 ELSE failure_count + 1 END WHERE id = $4`, status, at, success, id)
	if err != nil {
		return fmt.Errorf("failed to update webhook status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateDeliveryAttempt implements the Storer interface.
func (s *PostgresStore) CreateDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	err := s.db.QueryRow(ctx, `INSERT INTO webhook_deliveries
		(webhook_id, delivery_id, event_type, payload, response_status, response_body, success, attempt_number, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		attempt.WebhookID, attempt.DeliveryID, attempt.EventType, attempt.Payload, attempt.ResponseStatus,
		attempt.ResponseBody, attempt.Success, attempt.AttemptNumber, attempt.Error, attempt.OccurredAt,
	).Scan(&attempt.ID)
	if err != nil {
		return fmt.Errorf("failed to create delivery attempt: %w", err)
	}
	return nil
}

// ListDeliveryAttempts implements the Storer interface.
func (s *PostgresStore) ListDeliveryAttempts(ctx context.Context, webhookID string, limit int) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.Query(ctx, `SELECT id, webhook_id, delivery_id, event_type, payload, response_status, response_body, success, attempt_number, error, occurred_at
	FROM webhook_deliveries WHERE webhook_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.DeliveryAttempt
	for rows.Next() {
		var a models.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.WebhookID, &a.DeliveryID, &a.EventType, &a.Payload, &a.ResponseStatus,
			&a.ResponseBody, &a.Success, &a.AttemptNumber, &a.Error, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// DeleteDeliveryAttemptsBefore implements the Storer interface.
func (s *PostgresStore) DeleteDeliveryAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM webhook_deliveries WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old delivery attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetSettings implements the Storer interface.
func (s *PostgresStore) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[k] = v
	}
	return values, rows.Err()
}

// PutSettings implements the Storer interface.
func (s *PostgresStore) PutSettings(ctx context.Context, values map[string]string) error {
	batch := &pgx.Batch{}
	for k, v := range values {
		batch.Queue(`INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, k, v)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	return nil
}

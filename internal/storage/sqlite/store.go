package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"domainwatch/internal/models"
	"domainwatch/internal/storage"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the storage.Storer interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.Storer = (*SQLiteStore)(nil)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// New creates a new SQLiteStore and establishes a connection to the database file.
// It also runs migrations to ensure the schema is up to date.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	dsn := dataSourceName + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dataSourceName != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if dataSourceName == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate ensures the database schema is created.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS endpoints (
	id         TEXT PRIMARY KEY,
	hostname   TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checks (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint_id      TEXT NOT NULL,
	status           TEXT NOT NULL,
	response_time_ms INTEGER,
	status_code      INTEGER,
	error            TEXT,
	checked_at       TEXT NOT NULL,
	FOREIGN KEY(endpoint_id) REFERENCES endpoints(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_checks_endpoint_checked_at ON checks (endpoint_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON checks (checked_at);

CREATE TABLE IF NOT EXISTS webhooks (
	id               TEXT PRIMARY KEY,
	url              TEXT NOT NULL,
	secret           TEXT NOT NULL,
	events           TEXT NOT NULL,
	enabled          INTEGER NOT NULL DEFAULT 1,
	last_status      INTEGER,
	failure_count    INTEGER NOT NULL DEFAULT 0,
	last_delivery_at TEXT,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	webhook_id      TEXT NOT NULL,
	delivery_id     TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	payload         TEXT NOT NULL,
	response_status INTEGER,
	response_body   TEXT NOT NULL DEFAULT '',
	success         INTEGER NOT NULL,
	attempt_number  INTEGER NOT NULL,
	error           TEXT,
	occurred_at     TEXT NOT NULL,
	FOREIGN KEY(webhook_id) REFERENCES webhooks(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook ON webhook_deliveries (webhook_id, occurred_at DESC);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func randomID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + time.Now().UTC().Format("20060102150405")
	}
	return prefix + hex.EncodeToString(b)
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// placeholders returns "?, ?, ?" and the ids as query args.
func placeholders(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

// CreateEndpoint saves a new endpoint. An existing hostname is returned
// together with storage.ErrDuplicateKey.
func (s *SQLiteStore) CreateEndpoint(ctx context.Context, endpoint *models.Endpoint) (*models.Endpoint, error) {
	if endpoint.ID == "" {
		endpoint.ID = randomID("d_")
	}
	if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO endpoints (id, hostname, created_at) VALUES (?, ?, ?) ON CONFLICT(hostname) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, endpoint.ID, endpoint.Hostname, formatTime(endpoint.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var existing models.Endpoint
		var createdAt string
		err := s.db.QueryRowContext(ctx, `SELECT id, hostname, created_at FROM endpoints WHERE hostname = ?`, endpoint.Hostname).
			Scan(&existing.ID, &existing.Hostname, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve existing endpoint: %w", err)
		}
		existing.CreatedAt = parseTime(createdAt)
		return &existing, storage.ErrDuplicateKey
	}
	return endpoint, nil
}

// GetEndpoint retrieves a single endpoint by its unique ID.
func (s *SQLiteStore) GetEndpoint(ctx context.Context, id string) (*models.Endpoint, error) {
	var e models.Endpoint
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, hostname, created_at FROM endpoints WHERE id = ?`, id).
		Scan(&e.ID, &e.Hostname, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint by id: %w", err)
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

// ListEndpoints retrieves every endpoint in creation order.
func (s *SQLiteStore) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, hostname, created_at FROM endpoints ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()
	var endpoints []models.Endpoint
	for rows.Next() {
		var e models.Endpoint
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Hostname, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint row: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// CreateCheck appends a check result.
func (s *SQLiteStore) CreateCheck(ctx context.Context, check *models.Check) error {
	query := `INSERT INTO checks (endpoint_id, status, response_time_ms, status_code, error, checked_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, check.EndpointID, string(check.Status), check.ResponseTimeMS, check.StatusCode, check.Error, formatTime(check.CheckedAt))
	if err != nil {
		return fmt.Errorf("failed to create check: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		check.ID = id
	}
	return nil
}

const checkColumns = `id, endpoint_id, status, response_time_ms, status_code, error, checked_at`

func scanCheck(rows *sql.Rows) (models.Check, error) {
	var c models.Check
	var status, checkedAt string
	var responseTime sql.NullInt64
	var statusCode sql.NullInt64
	var errMsg sql.NullString
	if err := rows.Scan(&c.ID, &c.EndpointID, &status, &responseTime, &statusCode, &errMsg, &checkedAt); err != nil {
		return c, fmt.Errorf("failed to scan check row: %w", err)
	}
	c.Status = models.CheckStatus(status)
	c.CheckedAt = parseTime(checkedAt)
	if responseTime.Valid {
		v := responseTime.Int64
		c.ResponseTimeMS = &v
	}
	if statusCode.Valid {
		v := int(statusCode.Int64)
		c.StatusCode = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		c.Error = &v
	}
	return c, nil
}

// ListChecks retrieves recent checks for an endpoint, newest first.
func (s *SQLiteStore) ListChecks(ctx context.Context, params storage.ListChecksParams) ([]models.Check, error) {
	args := []any{params.EndpointID}
	qb := strings.Builder{}
	qb.WriteString("SELECT " + checkColumns + " FROM checks WHERE endpoint_id = ?")
	if params.Since != nil {
		args = append(args, formatTime(*params.Since))
		qb.WriteString(" AND checked_at > ?")
	}
	qb.WriteString(" ORDER BY checked_at DESC, id DESC LIMIT ?")
	args = append(args, params.Limit)
	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
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

// SummarizeChecks computes counters, the latest checks and the failure streak
// for every requested endpoint inside a single transaction.
func (s *SQLiteStore) SummarizeChecks(ctx context.Context, endpointIDs []string, recent int) (map[string]models.CheckSummary, error) {
	out := make(map[string]models.CheckSummary, len(endpointIDs))
	for _, id := range endpointIDs {
		out[id] = models.CheckSummary{EndpointID: id}
	}
	if len(endpointIDs) == 0 {
		return out, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	in, args := placeholders(endpointIDs)
	rows, err := tx.QueryContext(ctx, `
SELECT endpoint_id,
       COUNT(*),
       SUM(CASE WHEN status = 'up' THEN 1 ELSE 0 END),
       AVG(CASE WHEN status = 'up' THEN response_time_ms END)
FROM checks WHERE endpoint_id IN (`+in+`) GROUP BY endpoint_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate checks: %w", err)
	}
	for rows.Next() {
		var id string
		var total, successful int
		var avg sql.NullFloat64
		if err := rows.Scan(&id, &total, &successful, &avg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		sum := out[id]
		sum.TotalChecks = total
		sum.SuccessfulChecks = successful
		if avg.Valid {
			v := avg.Float64
			sum.AvgResponseTimeMS = &v
		}
		out[id] = sum
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if recent > 0 {
		rows, err = tx.QueryContext(ctx, `
SELECT `+checkColumns+` FROM (
	SELECT `+checkColumns+`,
	       ROW_NUMBER() OVER (PARTITION BY endpoint_id ORDER BY checked_at DESC, id DESC) AS rn
	FROM checks WHERE endpoint_id IN (`+in+`)
) WHERE rn <= ? ORDER BY endpoint_id, checked_at DESC, id DESC`, append(args, recent)...)
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
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
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
	return out, tx.Commit()
}

// ChecksSince returns checks at or after since, oldest first.
func (s *SQLiteStore) ChecksSince(ctx context.Context, endpointIDs []string, since time.Time) (map[string][]models.Check, error) {
	out := make(map[string][]models.Check, len(endpointIDs))
	if len(endpointIDs) == 0 {
		return out, nil
	}
	in, args := placeholders(endpointIDs)
	rows, err := s.db.QueryContext(ctx, `SELECT `+checkColumns+` FROM checks
WHERE endpoint_id IN (`+in+`) AND checked_at >= ? ORDER BY endpoint_id, checked_at, id`, append(args, formatTime(since))...)
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

// ConsecutiveFailures counts, per endpoint, the down checks newer than its last up check.
func (s *SQLiteStore) ConsecutiveFailures(ctx context.Context, endpointIDs []string) (map[string]int, error) {
	return consecutiveFailures(ctx, s.db, endpointIDs)
}

func consecutiveFailures(ctx context.Context, q queryer, endpointIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(endpointIDs))
	for _, id := range endpointIDs {
		out[id] = 0
	}
	if len(endpointIDs) == 0 {
		return out, nil
	}
	in, args := placeholders(endpointIDs)
	rows, err := q.QueryContext(ctx, `
SELECT c.endpoint_id, COUNT(*) FROM checks c
WHERE c.endpoint_id IN (`+in+`) AND c.status = 'down'
  AND NOT EXISTS (
	SELECT 1 FROM checks u
	WHERE u.endpoint_id = c.endpoint_id AND u.status = 'up'
	  AND (u.checked_at > c.checked_at OR (u.checked_at = c.checked_at AND u.id > c.id))
  )
GROUP BY c.endpoint_id`, args...)
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

// DeleteChecksBefore removes checks older than cutoff.
func (s *SQLiteStore) DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checks WHERE checked_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old checks: %w", err)
	}
	return res.RowsAffected()
}

// CreateWebhook saves a new subscription.
func (s *SQLiteStore) CreateWebhook(ctx context.Context, webhook *models.Webhook) (*models.Webhook, error) {
	if webhook.ID == "" {
		webhook.ID = randomID("wh_")
	}
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = time.Now().UTC()
	}
	events, err := json.Marshal(webhook.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook events: %w", err)
	}
	query := `INSERT INTO webhooks (id, url, secret, events, enabled, failure_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, webhook.ID, webhook.URL, webhook.Secret, string(events), webhook.Enabled, webhook.FailureCount, formatTime(webhook.CreatedAt)); err != nil {
		return nil, fmt.Errorf("failed to insert webhook: %w", err)
	}
	return webhook, nil
}

const webhookColumns = `id, url, secret, events, enabled, last_status, failure_count, last_delivery_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (models.Webhook, error) {
	var w models.Webhook
	var events, createdAt string
	var lastStatus sql.NullInt64
	var lastDelivery sql.NullString
	if err := row.Scan(&w.ID, &w.URL, &w.Secret, &events, &w.Enabled, &lastStatus, &w.FailureCount, &lastDelivery, &createdAt); err != nil {
		return w, err
	}
	if err := json.Unmarshal([]byte(events), &w.Events); err != nil {
		return w, fmt.Errorf("failed to decode webhook events: %w", err)
	}
	if lastStatus.Valid {
		v := int(lastStatus.Int64)
		w.LastStatus = &v
	}
	if lastDelivery.Valid {
		t := parseTime(lastDelivery.String)
		w.LastDeliveryAt = &t
	}
	w.CreatedAt = parseTime(createdAt)
	return w, nil
}

// GetWebhook retrieves a subscription by ID.
func (s *SQLiteStore) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	w, err := scanWebhook(s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook by id: %w", err)
	}
	return &w, nil
}

// ListWebhooksForEvent returns enabled subscriptions registered for eventType.
func (s *SQLiteStore) ListWebhooksForEvent(ctx context.Context, eventType string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE enabled = 1 ORDER BY created_at, id`)
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
		if slices.Contains(w.Events, eventType) {
			hooks = append(hooks, w)
		}
	}
	return hooks, rows.Err()
}

// RecordWebhookResult updates last_status and the failure counter.
func (s *SQLiteStore) RecordWebhookResult(ctx context.Context, id string, status *int, success bool, at time.Time) error {
	query := `UPDATE webhooks SET last_status = ?, last_delivery_at = ?, failure_count = failure_count + 1 WHERE id = ?`
	if success {
		query = `UPDATE webhooks SET last_status = ?, last_delivery_at = ?, failure_count = 0 WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, query, status, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update webhook status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateDeliveryAttempt appends one attempt to the delivery log.
func (s *SQLiteStore) CreateDeliveryAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	query := `INSERT INTO webhook_deliveries (webhook_id, delivery_id, event_type, payload, response_status, response_body, success, attempt_number, error, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, attempt.WebhookID, attempt.DeliveryID, attempt.EventType, attempt.Payload,
		attempt.ResponseStatus, attempt.ResponseBody, attempt.Success, attempt.AttemptNumber, attempt.Error, formatTime(attempt.OccurredAt))
	if err != nil {
		return fmt.Errorf("failed to create delivery attempt: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		attempt.ID = id
	}
	return nil
}

// ListDeliveryAttempts returns the newest attempts of a webhook first.
func (s *SQLiteStore) ListDeliveryAttempts(ctx context.Context, webhookID string, limit int) ([]models.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, webhook_id, delivery_id, event_type, payload, response_status, response_body, success, attempt_number, error, occurred_at
FROM webhook_deliveries WHERE webhook_id = ? ORDER BY occurred_at DESC, id DESC LIMIT ?`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}
	defer rows.Close()
	var attempts []models.DeliveryAttempt
	for rows.Next() {
		var a models.DeliveryAttempt
		var status sql.NullInt64
		var errMsg sql.NullString
		var occurredAt string
		if err := rows.Scan(&a.ID, &a.WebhookID, &a.DeliveryID, &a.EventType, &a.Payload, &status, &a.ResponseBody, &a.Success, &a.AttemptNumber, &errMsg, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		if status.Valid {
			v := int(status.Int64)
			a.ResponseStatus = &v
		}
		if errMsg.Valid {
			v := errMsg.String
			a.Error = &v
		}
		a.OccurredAt = parseTime(occurredAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// DeleteDeliveryAttemptsBefore prunes the delivery log.
func (s *SQLiteStore) DeleteDeliveryAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE occurred_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old delivery attempts: %w", err)
	}
	return res.RowsAffected()
}

// GetSettings returns every stored setting.
func (s *SQLiteStore) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
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

// PutSettings upserts the given settings in one transaction.
func (s *SQLiteStore) PutSettings(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("failed to store setting %q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"vrpga/internal/opt"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Migrate applies the embedded schema files in name order. Every statement is
// idempotent, so running it on each start is safe.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

const runColumns = `id::text, status, instance_name, dimension, vehicles, seed, config,
	COALESCE(callback_url,''), COALESCE(callback_secret,''), best, best_cost, history, metrics,
	COALESCE(error,''), created_at, started_at, finished_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanRun(sc rowScanner) (Run, error) {
	var (
		r                      Run
		cfg, best, history, mx []byte
		bestCost               sql.NullFloat64
		startedAt, finishedAt  sql.NullTime
	)
	err := sc.Scan(&r.ID, &r.Status, &r.InstanceName, &r.Dimension, &r.Vehicles, &r.Seed, &cfg,
		&r.CallbackURL, &r.CallbackSecret, &best, &bestCost, &history, &mx,
		&r.Error, &r.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal(cfg, &r.Config); err != nil {
		return Run{}, fmt.Errorf("run %s config: %w", r.ID, err)
	}
	if len(best) > 0 {
		if err := json.Unmarshal(best, &r.Best); err != nil {
			return Run{}, fmt.Errorf("run %s best: %w", r.ID, err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &r.History); err != nil {
			return Run{}, fmt.Errorf("run %s history: %w", r.ID, err)
		}
	}
	if len(mx) > 0 {
		var m opt.Metrics
		if err := json.Unmarshal(mx, &m); err != nil {
			return Run{}, fmt.Errorf("run %s metrics: %w", r.ID, err)
		}
		r.Metrics = &m
	}
	if bestCost.Valid {
		r.BestCost = &bestCost.Float64
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		r.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		r.FinishedAt = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (p *Postgres) CreateRun(ctx context.Context, in NewRun) (Run, error) {
	cfg, err := json.Marshal(in.Config)
	if err != nil {
		return Run{}, err
	}
	id := uuid.New().String()
	row := p.db.QueryRowContext(ctx, `INSERT INTO solver_runs (id, status, instance_name, dimension, vehicles, seed, config, callback_url, callback_secret)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+runColumns,
		id, StatusQueued, in.InstanceName, in.Dimension, in.Vehicles, in.Seed, cfg, nullIfEmpty(in.CallbackURL), nullIfEmpty(in.CallbackSecret))
	return scanRun(row)
}

func (p *Postgres) StartRun(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE solver_runs SET status=$2, started_at=now() WHERE id=$1 AND status=$3`,
		id, StatusRunning, StatusQueued)
	if err != nil {
		return err
	}
	return p.checkTransition(ctx, res, id)
}

func (p *Postgres) CompleteRun(ctx context.Context, id string, res opt.Result) error {
	return p.finish(ctx, id, StatusCompleted, "", &res)
}

func (p *Postgres) FailRun(ctx context.Context, id, reason string, partial *opt.Result) error {
	return p.finish(ctx, id, StatusFailed, reason, partial)
}

func (p *Postgres) finish(ctx context.Context, id string, status RunStatus, reason string, res *opt.Result) error {
	var best, history, mx []byte
	var bestCost any
	if res != nil {
		var err error
		if best, err = json.Marshal(res.Best); err != nil {
			return err
		}
		if history, err = json.Marshal(res.History); err != nil {
			return err
		}
		if mx, err = json.Marshal(res.Metrics); err != nil {
			return err
		}
		bestCost = res.BestCost
	}
	out, err := p.db.ExecContext(ctx, `UPDATE solver_runs
		SET status=$2, error=$3, best=COALESCE($4, best), best_cost=COALESCE($5, best_cost),
		    history=COALESCE($6, history), metrics=COALESCE($7, metrics), finished_at=now()
		WHERE id=$1 AND status NOT IN ($8, $9)`,
		id, status, nullIfEmpty(reason), nullJSON(best), bestCost, nullJSON(history), nullJSON(mx),
		StatusCompleted, StatusFailed)
	if err != nil {
		return err
	}
	return p.checkTransition(ctx, out, id)
}

// checkTransition turns a zero-row state update into ErrNotFound or ErrConflict.
func (p *Postgres) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM solver_runs WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s is %s: %w", id, status, ErrConflict)
}

func (p *Postgres) GetRun(ctx context.Context, id string) (Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Run{}, ErrNotFound
	}
	r, err := scanRun(p.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM solver_runs WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, status RunStatus, cursor string, limit int) ([]Run, string, error) {
	limit = clampLimit(limit)
	q := `SELECT ` + runColumns + ` FROM solver_runs
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR seq > (SELECT seq FROM solver_runs WHERE id::text = $2))
		ORDER BY seq LIMIT $3`
	rows, err := p.db.QueryContext(ctx, q, string(status), cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, runID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	dk := computeDedupKey(payload)
	err := p.db.QueryRowContext(ctx, `INSERT INTO webhook_deliveries (id, run_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,now(),$8)
		ON CONFLICT (run_id, event_type, url, dedup_key) DO NOTHING
		RETURNING id::text`, id, runID, eventType, url, nullIfEmpty(secret), payload, DeliveryPending, dk).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = p.db.QueryRowContext(ctx, `SELECT id::text FROM webhook_deliveries WHERE run_id=$1 AND event_type=$2 AND url=$3 AND dedup_key=$4`,
			runID, eventType, url, dk).Scan(&id)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryColumns = `id::text, run_id::text, event_type, url, COALESCE(secret,''), payload, status, attempts,
	next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), delivered_at`

func scanDelivery(sc rowScanner) (WebhookDelivery, error) {
	var d WebhookDelivery
	var delivered sql.NullTime
	err := sc.Scan(&d.ID, &d.RunID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts,
		&d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs, &delivered)
	if delivered.Valid {
		d.DeliveredAt = &delivered.Time
	}
	return d, err
}

func (p *Postgres) queryDeliveries(ctx context.Context, q string, args ...any) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	return p.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status IN ($1,$2) AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $3`,
		DeliveryPending, DeliveryRetry, limit)
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, runID string) ([]WebhookDelivery, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return []WebhookDelivery{}, nil
	}
	return p.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE run_id=$1 ORDER BY seq`, runID)
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$2, delivered_at=now(), updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
			id, DeliveryDelivered, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$2, last_error=$3, next_attempt_at=$4, updated_at=now(), response_code=$5, latency_ms=$6 WHERE id=$1`,
		id, DeliveryRetry, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status=$2, last_error=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, DeliveryFailed, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

// computeDedupKey uses the payload's "id" field when present, otherwise a
// short content hash, so re-enqueueing the same event is a no-op.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

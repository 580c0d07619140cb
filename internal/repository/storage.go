package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"webhook-relay/internal/config"
	"webhook-relay/internal/model"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

type PostgresRepo struct {
	db *sql.DB
}

type RedisQueue struct {
	client *redis.Client
	key    string
}

type Storage struct {
	repo  *PostgresRepo
	queue *RedisQueue
}

func NewPostgresRepo(dbURL string) (*PostgresRepo, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresRepo{db: db}, nil
}

func NewRedisQueue(ctx context.Context, cfg config.RedisConfig, key string) (*RedisQueue, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		Username:     cfg.User,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis server: %w", err)
	}

	return &RedisQueue{client: client, key: key}, nil
}

func NewStorage(dbURL string, redisCfg config.RedisConfig, queueKey string) (*Storage, error) {
	postgres, err := NewPostgresRepo(dbURL)
	if err != nil {
		return nil, err
	}
	queue, err := NewRedisQueue(context.Background(), redisCfg, queueKey)
	if err != nil {
		return nil, err
	}
	return &Storage{
		repo:  postgres,
		queue: queue,
	}, nil
}

func (s *Storage) CreateTables(ctx context.Context) error {
	query := `
CREATE TABLE IF NOT EXISTS webhook_endpoints (
    id         SERIAL PRIMARY KEY,
    url        TEXT        NOT NULL,
    secret     TEXT        NOT NULL,
    is_active  BOOLEAN     NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS webhook_events (
    id              SERIAL PRIMARY KEY,
    endpoint_id     INTEGER     NOT NULL REFERENCES webhook_endpoints (id),
    event_type      TEXT        NOT NULL,
    payload         JSONB       NOT NULL,
    status          TEXT        NOT NULL DEFAULT 'pending',
    attempts        INTEGER     NOT NULL DEFAULT 0,
    last_attempt_at TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := s.repo.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("create webhook tables: %w", err)
	}
	return nil
}

func (s *Storage) CreateEndpoint(ctx context.Context, ep *model.Endpoint) (int64, error) {
	query := `
INSERT INTO webhook_endpoints (url, secret)
VALUES ($1, $2)
RETURNING id, is_active, created_at;
`

	row := s.repo.db.QueryRowContext(ctx, query, ep.URL, ep.Secret)
	if err := row.Scan(&ep.ID, &ep.Active, &ep.CreatedAt); err != nil {
		return 0, err
	}
	return ep.ID, nil
}

func (s *Storage) ListEndpoints(ctx context.Context) ([]model.Endpoint, error) {
	query := `
SELECT id, url, secret, is_active, created_at
FROM webhook_endpoints
ORDER BY created_at DESC;
`

	rows, err := s.repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Endpoint
	for rows.Next() {
		var ep model.Endpoint
		if err := rows.Scan(
			&ep.ID,
			&ep.URL,
			&ep.Secret,
			&ep.Active,
			&ep.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ep)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Storage) GetEndpointByID(ctx context.Context, id int64) (*model.Endpoint, error) {
	query := `
SELECT id, url, secret, is_active, created_at
FROM webhook_endpoints
WHERE id = $1;
`
	var ep model.Endpoint
	err := s.repo.db.QueryRowContext(ctx, query, id).Scan(
		&ep.ID,
		&ep.URL,
		&ep.Secret,
		&ep.Active,
		&ep.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *Storage) CreateEvent(ctx context.Context, ev *model.Event) (int64, error) {
	query := `
INSERT INTO webhook_events (endpoint_id, event_type, payload)
VALUES ($1, $2, $3)
RETURNING id, status, attempts, created_at;
`

	// lib/pq would send []byte as bytea, so the JSONB payload goes as text.
	row := s.repo.db.QueryRowContext(ctx, query,
		ev.EndpointID,
		ev.EventType,
		string(ev.Payload),
	)

	if err := row.Scan(&ev.ID, &ev.Status, &ev.Attempts, &ev.CreatedAt); err != nil {
		return 0, err
	}
	return ev.ID, nil
}

func (s *Storage) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	query := `
SELECT id, endpoint_id, event_type, payload, status, attempts, last_attempt_at, created_at
FROM webhook_events
WHERE id = $1;
`
	var ev model.Event
	var payload []byte
	err := s.repo.db.QueryRowContext(ctx, query, id).Scan(
		&ev.ID,
		&ev.EndpointID,
		&ev.EventType,
		&payload,
		&ev.Status,
		&ev.Attempts,
		&ev.LastAttemptAt,
		&ev.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ev.Payload = payload
	return &ev, nil
}

func (s *Storage) MarkAttempt(ctx context.Context, id int64, status model.EventStatus) error {
	query := `
UPDATE webhook_events
SET status = $1,
    attempts = attempts + 1,
    last_attempt_at = NOW()
WHERE id = $2;
`
	_, err := s.repo.db.ExecContext(ctx, query, string(status), id)
	return err
}

func (s *Storage) EnqueueDelivery(ctx context.Context, task model.DeliveryTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.queue.client.RPush(ctx, s.queue.key, data).Err()
}

// BLPopDelivery blocks up to timeout waiting for the next delivery task.
// An empty string with a nil error means the wait timed out.
func (s *Storage) BLPopDelivery(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := s.queue.client.BLPop(ctx, timeout, s.queue.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// BLPop returns [key, value]
	if len(res) < 2 {
		return "", fmt.Errorf("unexpected BLPop reply: %v", res)
	}
	return res[1], nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.repo.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	var errPostgres, errRedis error

	if s.repo != nil && s.repo.db != nil {
		errPostgres = s.repo.db.Close()
	}
	if s.queue != nil && s.queue.client != nil {
		errRedis = s.queue.client.Close()
	}

	if errPostgres != nil || errRedis != nil {
		return fmt.Errorf("close errors: postgres=%v, redis=%v", errPostgres, errRedis)
	}
	return nil
}

// Package postgres provides a PostgreSQL-backed topics.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suoke-life/messagebus/internal/runtime/jsoncodec"
	"github.com/suoke-life/messagebus/internal/runtime/topics"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS messagebus_topics (
    name TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    properties TEXT NOT NULL DEFAULT '{}',
    partition_count INTEGER NOT NULL CHECK (partition_count >= 1),
    retention_hours INTEGER NOT NULL CHECK (retention_hours > 0),
    created_at TIMESTAMPTZ NOT NULL
)`

// Store persists topics in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to databaseURL and ensures the topics table exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) CreateTopic(ctx context.Context, topic topics.Topic) (topics.Topic, error) {
	if err := ctx.Err(); err != nil {
		return topics.Topic{}, err
	}
	stored := topic.Clone()
	stored.Name = strings.TrimSpace(stored.Name)
	if stored.Name == "" {
		return topics.Topic{}, fmt.Errorf("topic name is required")
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.CreatedAt = stored.CreatedAt.UTC().Truncate(time.Microsecond)

	props, err := encodeProperties(stored.Properties)
	if err != nil {
		return topics.Topic{}, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO messagebus_topics (name, description, properties, partition_count, retention_hours, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		stored.Name, stored.Description, props, stored.PartitionCount, stored.RetentionHours, stored.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return topics.Topic{}, topics.ErrAlreadyExists
		}
		return topics.Topic{}, fmt.Errorf("create topic: %w", err)
	}
	return stored.Clone(), nil
}

func (s *Store) GetTopic(ctx context.Context, name string) (topics.Topic, error) {
	if err := ctx.Err(); err != nil {
		return topics.Topic{}, err
	}
	row := s.pool.QueryRow(ctx,
		`SELECT name, description, properties, partition_count, retention_hours, created_at
		 FROM messagebus_topics WHERE name = $1`,
		strings.TrimSpace(name),
	)
	topic, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return topics.Topic{}, topics.ErrNotFound
		}
		return topics.Topic{}, fmt.Errorf("get topic: %w", err)
	}
	return topic, nil
}

func (s *Store) ListTopics(ctx context.Context, pageSize int, pageToken string) (topics.Page, error) {
	if err := ctx.Err(); err != nil {
		return topics.Page{}, err
	}
	if pageSize <= 0 {
		return topics.Page{}, fmt.Errorf("page size must be greater than zero")
	}
	after, err := topics.DecodePageToken(pageToken)
	if err != nil {
		return topics.Page{}, err
	}

	// Repeatable read keeps the count and the page on one snapshot.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return topics.Page{}, fmt.Errorf("begin list: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	page := topics.Page{Topics: make([]topics.Topic, 0, pageSize)}
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM messagebus_topics`).Scan(&page.TotalCount); err != nil {
		return topics.Page{}, fmt.Errorf("count topics: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT name, description, properties, partition_count, retention_hours, created_at
		 FROM messagebus_topics
		 WHERE name > $1
		 ORDER BY name ASC
		 LIMIT $2`,
		after, pageSize+1,
	)
	if err != nil {
		return topics.Page{}, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return topics.Page{}, fmt.Errorf("scan topic: %w", err)
		}
		page.Topics = append(page.Topics, topic)
	}
	if err := rows.Err(); err != nil {
		return topics.Page{}, fmt.Errorf("list topics: %w", err)
	}
	if len(page.Topics) > pageSize {
		page.Topics = page.Topics[:pageSize]
		page.NextPageToken = topics.EncodePageToken(page.Topics[pageSize-1].Name)
	}
	return page, nil
}

func (s *Store) DeleteTopic(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM messagebus_topics WHERE name = $1`, strings.TrimSpace(name))
	if err != nil {
		return false, fmt.Errorf("delete topic: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanTopic(row pgx.Row) (topics.Topic, error) {
	var (
		topic topics.Topic
		props string
	)
	if err := row.Scan(
		&topic.Name,
		&topic.Description,
		&props,
		&topic.PartitionCount,
		&topic.RetentionHours,
		&topic.CreatedAt,
	); err != nil {
		return topics.Topic{}, err
	}
	topic.CreatedAt = topic.CreatedAt.UTC()
	if props != "" && props != "{}" {
		if err := jsoncodec.Unmarshal([]byte(props), &topic.Properties); err != nil {
			return topics.Topic{}, fmt.Errorf("decode properties: %w", err)
		}
	}
	return topic, nil
}

func encodeProperties(props map[string]string) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	raw, err := jsoncodec.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode properties: %w", err)
	}
	return string(raw), nil
}

var _ topics.Store = (*Store)(nil)

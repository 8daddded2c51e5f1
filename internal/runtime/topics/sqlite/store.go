// Package sqlite provides a SQLite-backed topics.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/suoke-life/messagebus/internal/runtime/jsoncodec"
	"github.com/suoke-life/messagebus/internal/runtime/topics"
	"github.com/suoke-life/messagebus/internal/runtime/topics/sqlite/migrations"
)

// Store persists topics in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) CreateTopic(ctx context.Context, topic topics.Topic) (topics.Topic, error) {
	if err := ctx.Err(); err != nil {
		return topics.Topic{}, err
	}
	if s == nil || s.sqlDB == nil {
		return topics.Topic{}, fmt.Errorf("storage is not configured")
	}
	stored := topic.Clone()
	stored.Name = strings.TrimSpace(stored.Name)
	if stored.Name == "" {
		return topics.Topic{}, fmt.Errorf("topic name is required")
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.CreatedAt = fromMillis(toMillis(stored.CreatedAt))

	props, err := encodeProperties(stored.Properties)
	if err != nil {
		return topics.Topic{}, err
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO topics (
		   name,
		   description,
		   properties,
		   partition_count,
		   retention_hours,
		   created_at
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		stored.Name,
		stored.Description,
		props,
		stored.PartitionCount,
		stored.RetentionHours,
		toMillis(stored.CreatedAt),
	)
	if err != nil {
		if isTopicUniqueViolation(err) {
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
	if s == nil || s.sqlDB == nil {
		return topics.Topic{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT name, description, properties, partition_count, retention_hours, created_at
		   FROM topics
		  WHERE name = ?`,
		strings.TrimSpace(name),
	)
	topic, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	if s == nil || s.sqlDB == nil {
		return topics.Page{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		return topics.Page{}, fmt.Errorf("page size must be greater than zero")
	}
	after, err := topics.DecodePageToken(pageToken)
	if err != nil {
		return topics.Page{}, err
	}

	// One transaction so the count and the page read the same snapshot.
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return topics.Page{}, fmt.Errorf("begin list: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	page := topics.Page{Topics: make([]topics.Topic, 0, pageSize)}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM topics`).Scan(&page.TotalCount); err != nil {
		return topics.Page{}, fmt.Errorf("count topics: %w", err)
	}

	rows, err := tx.QueryContext(
		ctx,
		`SELECT name, description, properties, partition_count, retention_hours, created_at
		   FROM topics
		  WHERE name > ?
		  ORDER BY name ASC
		  LIMIT ?`,
		after,
		pageSize+1,
	)
	if err != nil {
		return topics.Page{}, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return topics.Page{}, fmt.Errorf("list topics: %w", err)
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
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM topics WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return false, fmt.Errorf("delete topic: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete topic: %w", err)
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (topics.Topic, error) {
	var (
		topic     topics.Topic
		props     string
		createdAt int64
	)
	if err := row.Scan(
		&topic.Name,
		&topic.Description,
		&props,
		&topic.PartitionCount,
		&topic.RetentionHours,
		&createdAt,
	); err != nil {
		return topics.Topic{}, err
	}
	properties, err := decodeProperties(props)
	if err != nil {
		return topics.Topic{}, err
	}
	topic.Properties = properties
	topic.CreatedAt = fromMillis(createdAt)
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

func decodeProperties(raw string) (map[string]string, error) {
	var props map[string]string
	if err := jsoncodec.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	if len(props) == 0 {
		return nil, nil
	}
	return props, nil
}

func isTopicUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "topics.name")
}

var _ topics.Store = (*Store)(nil)

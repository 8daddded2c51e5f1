// Package topics defines topic metadata and the storage contract behind topic
// lifecycle operations.
package topics

import (
	"context"
	"encoding/base64"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/suoke-life/messagebus/internal/runtime/jsoncodec"
)

var (
	// ErrNotFound indicates the requested topic does not exist.
	ErrNotFound = errors.New("topics: topic not found")
	// ErrAlreadyExists indicates a topic with the same name exists.
	ErrAlreadyExists = errors.New("topics: topic already exists")
	// ErrInvalidPageToken indicates a page token that was not issued by a store.
	ErrInvalidPageToken = errors.New("topics: invalid page token")
)

// Topic is a named channel with its broker settings.
type Topic struct {
	Name           string
	Description    string
	Properties     map[string]string
	CreatedAt      time.Time
	PartitionCount int32
	RetentionHours int32
}

// Clone returns a deep copy of t.
func (t Topic) Clone() Topic {
	if t.Properties != nil {
		t.Properties = maps.Clone(t.Properties)
	}
	return t
}

// Page is one page of topics ordered by name.
type Page struct {
	Topics        []Topic
	NextPageToken string
	TotalCount    int
}

// Store persists topics. Implementations are safe for concurrent use.
type Store interface {
	// CreateTopic stores topic and returns the stored value. It fails with
	// ErrAlreadyExists when the name is taken.
	CreateTopic(ctx context.Context, topic Topic) (Topic, error)
	// GetTopic returns ErrNotFound when name is unknown.
	GetTopic(ctx context.Context, name string) (Topic, error)
	// ListTopics returns up to pageSize topics after the position encoded in
	// pageToken. An empty token starts from the beginning.
	ListTopics(ctx context.Context, pageSize int, pageToken string) (Page, error)
	// DeleteTopic reports whether a topic was removed.
	DeleteTopic(ctx context.Context, name string) (bool, error)
	Close() error
}

type cursor struct {
	After string `json:"after"`
}

// EncodePageToken returns the opaque token resuming after name.
func EncodePageToken(after string) string {
	raw, err := jsoncodec.Marshal(cursor{After: after})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodePageToken returns the name a token resumes after. An empty token
// decodes to "".
func DecodePageToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidPageToken
	}
	var c cursor
	if err := jsoncodec.Unmarshal(raw, &c); err != nil || c.After == "" {
		return "", ErrInvalidPageToken
	}
	return c.After, nil
}

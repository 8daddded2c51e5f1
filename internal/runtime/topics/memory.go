package topics

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore keeps topics in process memory. Reads work on an immutable
// snapshot and never block; writers are serialised and publish a new
// snapshot when they finish.
type MemoryStore struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[memorySnapshot]
	now      func() time.Time
}

type memorySnapshot struct {
	byName map[string]Topic
	names  []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	s.snapshot.Store(&memorySnapshot{byName: map[string]Topic{}})
	return s
}

func (s *MemoryStore) CreateTopic(ctx context.Context, topic Topic) (Topic, error) {
	if err := ctx.Err(); err != nil {
		return Topic{}, err
	}
	name := strings.TrimSpace(topic.Name)
	if name == "" {
		return Topic{}, fmt.Errorf("topic name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snapshot.Load()
	if _, ok := current.byName[name]; ok {
		return Topic{}, ErrAlreadyExists
	}

	stored := topic.Clone()
	stored.Name = name
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}

	next := &memorySnapshot{
		byName: make(map[string]Topic, len(current.byName)+1),
		names:  make([]string, 0, len(current.names)+1),
	}
	for k, v := range current.byName {
		next.byName[k] = v
	}
	next.byName[name] = stored

	idx, _ := slices.BinarySearch(current.names, name)
	next.names = append(next.names, current.names[:idx]...)
	next.names = append(next.names, name)
	next.names = append(next.names, current.names[idx:]...)

	s.snapshot.Store(next)
	return stored.Clone(), nil
}

func (s *MemoryStore) GetTopic(ctx context.Context, name string) (Topic, error) {
	if err := ctx.Err(); err != nil {
		return Topic{}, err
	}
	topic, ok := s.snapshot.Load().byName[strings.TrimSpace(name)]
	if !ok {
		return Topic{}, ErrNotFound
	}
	return topic.Clone(), nil
}

func (s *MemoryStore) ListTopics(ctx context.Context, pageSize int, pageToken string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if pageSize <= 0 {
		return Page{}, fmt.Errorf("page size must be greater than zero")
	}
	after, err := DecodePageToken(pageToken)
	if err != nil {
		return Page{}, err
	}

	snap := s.snapshot.Load()
	start := 0
	if after != "" {
		start, _ = slices.BinarySearch(snap.names, after)
		if start < len(snap.names) && snap.names[start] == after {
			start++
		}
	}
	end := min(start+pageSize, len(snap.names))

	page := Page{
		Topics:     make([]Topic, 0, end-start),
		TotalCount: len(snap.names),
	}
	for _, name := range snap.names[start:end] {
		page.Topics = append(page.Topics, snap.byName[name].Clone())
	}
	if end < len(snap.names) {
		page.NextPageToken = EncodePageToken(snap.names[end-1])
	}
	return page, nil
}

func (s *MemoryStore) DeleteTopic(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snapshot.Load()
	if _, ok := current.byName[name]; !ok {
		return false, nil
	}

	next := &memorySnapshot{
		byName: make(map[string]Topic, len(current.byName)),
		names:  make([]string, 0, len(current.names)),
	}
	for k, v := range current.byName {
		if k != name {
			next.byName[k] = v
		}
	}
	for _, n := range current.names {
		if n != name {
			next.names = append(next.names, n)
		}
	}

	s.snapshot.Store(next)
	return true, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

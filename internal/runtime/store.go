package runtime

import (
	"context"
	"fmt"
	"strings"

	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
	"github.com/suoke-life/messagebus/internal/runtime/topics"
	"github.com/suoke-life/messagebus/internal/runtime/topics/postgres"
	"github.com/suoke-life/messagebus/internal/runtime/topics/sqlite"
)

// OpenTopicStore opens the topic store selected by conf.TopicStore.
func OpenTopicStore(ctx context.Context, conf *configpkg.Config) (topics.Store, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch strings.ToLower(conf.TopicStore) {
	case "", "memory":
		return topics.NewMemoryStore(), nil
	case "sqlite":
		store, err := sqlite.Open(conf.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("open sqlite topic store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.Open(ctx, conf.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres topic store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported topic store %q", conf.TopicStore)
	}
}

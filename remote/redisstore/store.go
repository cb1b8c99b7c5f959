// Package redisstore implements remote.Backend on Redis.
//
// Each project's system lives in a hash at <prefix>:system:<projectId> with
// the fields id, projectId, image, data (JSON SystemData), revision and
// savedAt. Project ids with a saved system are kept in the set
// <prefix>:systems.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/threatmodel/redisconn"
	"github.com/zero-day-ai/threatmodel/remote"
)

// DefaultPrefix namespaces all keys.
const DefaultPrefix = "threatmodel"

// Options configures a Store.
type Options struct {
	redisconn.Options

	// Prefix namespaces keys. Empty means DefaultPrefix.
	Prefix string

	Logger *slog.Logger
}

// Store persists systems in Redis.
type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

var _ remote.Backend = (*Store)(nil)

// New connects to Redis.
func New(opts Options) (*Store, error) {
	client, err := redisconn.Dial(opts.Options)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, opts.Prefix, opts.Logger), nil
}

// NewWithClient wraps an existing client. The Store owns the client and
// closes it on Close.
func NewWithClient(client *redis.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: prefix, now: time.Now, logger: logger}
}

func (s *Store) systemKey(projectID string) string {
	return redisconn.Key(s.prefix, "system", projectID)
}

func (s *Store) indexKey() string {
	return redisconn.Key(s.prefix, "systems")
}

// GetSystem returns the stored system or nil when the project has none.
func (s *Store) GetSystem(ctx context.Context, projectID string) (*remote.System, error) {
	fields, err := s.client.HGetAll(ctx, s.systemKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", remote.ErrLoad, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	sys := &remote.System{
		ID:        fields["id"],
		ProjectID: fields["projectId"],
		Image:     fields["image"],
	}
	if err := json.Unmarshal([]byte(fields["data"]), &sys.Data); err != nil {
		return nil, fmt.Errorf("%w: corrupt system %s: %w", remote.ErrLoad, projectID, err)
	}
	if sys.ProjectID == "" {
		sys.ProjectID = projectID
	}
	return sys, nil
}

// SaveSystem stores the system, assigning an id on first save, and returns
// the stored copy. The revision field is incremented on every save.
func (s *Store) SaveSystem(ctx context.Context, sys remote.System) (*remote.System, error) {
	if sys.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id is required", remote.ErrSave)
	}
	if sys.ID == "" {
		sys.ID = uuid.New().String()
	}
	if sys.Data.LastAutoSaveDate == nil {
		now := s.now().UTC()
		sys.Data.LastAutoSaveDate = &now
	}

	data, err := json.Marshal(sys.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal system: %w", remote.ErrSave, err)
	}

	key := s.systemKey(sys.ProjectID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", sys.ID,
			"projectId", sys.ProjectID,
			"image", sys.Image,
			"data", string(data),
			"savedAt", sys.Data.LastAutoSaveDate.Format(time.RFC3339Nano),
		)
		pipe.HIncrBy(ctx, key, "revision", 1)
		pipe.SAdd(ctx, s.indexKey(), sys.ProjectID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", remote.ErrSave, err)
	}

	s.logger.Debug("system saved", "project_id", sys.ProjectID, "system_id", sys.ID)
	return &sys, nil
}

// Revision returns how many times the project's system was saved.
func (s *Store) Revision(ctx context.Context, projectID string) (int64, error) {
	v, err := s.client.HGet(ctx, s.systemKey(projectID), "revision").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid revision value: %w", err)
	}
	return n, nil
}

// ListProjects returns the ids of projects with a saved system, sorted.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteSystem removes the project's system.
func (s *Store) DeleteSystem(ctx context.Context, projectID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.systemKey(projectID))
		pipe.SRem(ctx, s.indexKey(), projectID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete system %s: %w", projectID, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

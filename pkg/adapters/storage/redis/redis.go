package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/pkg/domain"
)

const (
	instancePrefix = "newsroom:instance:"
	dedupPrefix    = "newsroom:dedup:"
)

// InstanceStore implements ports.InstanceStore using Redis. Each instance is a
// JSON document; CompareAndSwap uses WATCH/MULTI on the instance key.
type InstanceStore struct {
	client *redis.Client
	logger *zap.Logger
	// archiveTTL expires instances that reached a terminal stage. Zero keeps
	// them forever.
	archiveTTL time.Duration
}

// NewInstanceStore creates a new Redis instance store
func NewInstanceStore(client *redis.Client, archiveTTL time.Duration, logger *zap.Logger) *InstanceStore {
	return &InstanceStore{
		client:     client,
		logger:     logger,
		archiveTTL: archiveTTL,
	}
}

// Create stores a new instance at version 1 unless one already exists
func (s *InstanceStore) Create(ctx context.Context, inst *domain.Instance) error {
	inst.Version = 1
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	ok, err := s.client.SetNX(ctx, getInstanceKey(inst.StoryID), data, 0).Result()
	if err != nil {
		return domain.Transient("redis", "create instance", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceExists, inst.StoryID)
	}

	s.logger.Debug("instance created",
		zap.String("story_id", string(inst.StoryID)))
	return nil
}

// Get retrieves an instance
func (s *InstanceStore) Get(ctx context.Context, id domain.StoryID) (*domain.Instance, error) {
	data, err := s.client.Get(ctx, getInstanceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
		}
		return nil, domain.Transient("redis", "get instance", err)
	}

	var inst domain.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return &inst, nil
}

// CompareAndSwap writes inst if the stored version equals expected
func (s *InstanceStore) CompareAndSwap(ctx context.Context, inst *domain.Instance, expected int64) error {
	key := getInstanceKey(inst.StoryID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, inst.StoryID)
			}
			return err
		}
		var stored domain.Instance
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal instance: %w", err)
		}
		if stored.Version != expected {
			return fmt.Errorf("%w: %s at version %d, expected %d", domain.ErrVersionConflict, inst.StoryID, stored.Version, expected)
		}

		next := *inst
		next.Version = expected + 1
		out, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to marshal instance: %w", err)
		}

		ttl := time.Duration(0)
		if s.archiveTTL > 0 && next.Stage.Terminal() {
			ttl = s.archiveTTL
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		inst.Version = expected + 1
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: %s changed during update", domain.ErrVersionConflict, inst.StoryID)
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrInstanceNotFound):
		return err
	default:
		return domain.Transient("redis", "update instance", err)
	}
}

// List returns all stored instances
func (s *InstanceStore) List(ctx context.Context) ([]*domain.Instance, error) {
	pattern := instancePrefix + "*"

	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	instances := make([]*domain.Instance, 0, len(keys))
	if len(keys) == 0 {
		return instances, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var inst domain.Instance
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			s.logger.Warn("skipping unreadable instance",
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}
		instances = append(instances, &inst)
	}

	sort.Slice(instances, func(i, j int) bool { return instances[i].CreatedAt.Before(instances[j].CreatedAt) })
	return instances, nil
}

// Close is a no-op; the Redis client is closed by the caller
func (s *InstanceStore) Close() error {
	return nil
}

// DedupStore implements ports.DedupStore with SET NX keys
type DedupStore struct {
	client *redis.Client
}

// NewDedupStore creates a new Redis dedup store
func NewDedupStore(client *redis.Client) *DedupStore {
	return &DedupStore{client: client}
}

// Seen reports whether key was marked done
func (s *DedupStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupPrefix+key).Result()
	if err != nil {
		return false, domain.Transient("redis", "dedup lookup", err)
	}
	return n > 0, nil
}

// MarkDone records key for ttl
func (s *DedupStore) MarkDone(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, dedupPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return domain.Transient("redis", "dedup mark", err)
	}
	return nil
}

// getInstanceKey returns the Redis key for a story's instance
func getInstanceKey(id domain.StoryID) string {
	return instancePrefix + string(id)
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/newsroom/pkg/domain"
)

// InMemoryInstanceStore implements ports.InstanceStore using an in-memory map
// of serialized instances.
// This is for testing purposes only
type InMemoryInstanceStore struct {
	instances map[domain.StoryID][]byte
	mu        sync.RWMutex
}

// NewInMemoryInstanceStore creates a new in-memory instance store
func NewInMemoryInstanceStore() *InMemoryInstanceStore {
	return &InMemoryInstanceStore{
		instances: make(map[domain.StoryID][]byte),
	}
}

// Create stores a new instance at version 1
func (s *InMemoryInstanceStore) Create(ctx context.Context, inst *domain.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.StoryID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceExists, inst.StoryID)
	}
	inst.Version = 1
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	s.instances[inst.StoryID] = data
	return nil
}

// Get returns a copy of the stored instance
func (s *InMemoryInstanceStore) Get(ctx context.Context, id domain.StoryID) (*domain.Instance, error) {
	s.mu.RLock()
	data, ok := s.instances[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, id)
	}
	return decode(data)
}

// CompareAndSwap replaces the instance if the stored version matches expected
func (s *InMemoryInstanceStore) CompareAndSwap(ctx context.Context, inst *domain.Instance, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[inst.StoryID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, inst.StoryID)
	}
	stored, err := decode(current)
	if err != nil {
		return err
	}
	if stored.Version != expected {
		return fmt.Errorf("%w: %s at version %d, expected %d", domain.ErrVersionConflict, inst.StoryID, stored.Version, expected)
	}

	inst.Version = expected + 1
	data, err := json.Marshal(inst)
	if err != nil {
		inst.Version = expected
		return fmt.Errorf("failed to marshal instance: %w", err)
	}
	s.instances[inst.StoryID] = data
	return nil
}

// List returns every stored instance ordered by creation time
func (s *InMemoryInstanceStore) List(ctx context.Context) ([]*domain.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Instance, 0, len(s.instances))
	for _, data := range s.instances {
		inst, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op
func (s *InMemoryInstanceStore) Close() error {
	return nil
}

func decode(data []byte) (*domain.Instance, error) {
	var inst domain.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return &inst, nil
}

// InMemoryDedupStore implements ports.DedupStore with expiring keys
type InMemoryDedupStore struct {
	keys map[string]time.Time
	mu   sync.Mutex
	now  func() time.Time
}

// NewInMemoryDedupStore creates a new in-memory dedup store
func NewInMemoryDedupStore() *InMemoryDedupStore {
	return &InMemoryDedupStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Seen reports whether key was marked done and has not expired
func (s *InMemoryDedupStore) Seen(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expires, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	if !expires.IsZero() && s.now().After(expires) {
		delete(s.keys, key)
		return false, nil
	}
	return true, nil
}

// MarkDone records key; a zero ttl never expires
func (s *InMemoryDedupStore) MarkDone(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = s.now().Add(ttl)
	}
	s.keys[key] = expires
	return nil
}

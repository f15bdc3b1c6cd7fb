package settings

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("settings profile not found")

// Store is the persistence boundary for endpoint profiles.
type Store interface {
	GetProfile(ctx context.Context, name string) (*Profile, error)
	PutProfile(ctx context.Context, profile Profile) (*Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	DeleteProfile(ctx context.Context, name string) error
	Close() error
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)

// MemoryStore keeps profiles in process memory. It backs tests and the
// read-only fallbacks; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (s *MemoryStore) GetProfile(_ context.Context, name string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[strings.TrimSpace(name)]
	if !ok {
		return nil, ErrNotFound
	}
	return &profile, nil
}

func (s *MemoryStore) PutProfile(_ context.Context, profile Profile) (*Profile, error) {
	if err := Validate(profile); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimSpace(profile.Name)
	profile.Name = name
	now := time.Now().UTC()
	if existing, ok := s.profiles[name]; ok {
		profile.CreatedAt = existing.CreatedAt
	} else {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	s.profiles[name] = profile
	return &profile, nil
}

func (s *MemoryStore) ListProfiles(_ context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteProfile(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if _, ok := s.profiles[name]; !ok {
		return ErrNotFound
	}
	delete(s.profiles, name)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

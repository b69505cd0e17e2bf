package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/abdalla-omar/perkmanager/dashboard/internal/view"
)

type memoryEntry struct {
	state   *view.Store
	expires time.Time
}

// MemoryStore keeps sessions in process memory. Expired entries are swept on a
// cron schedule.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewMemoryStore builds a store whose entries live for ttl after their last save.
// An empty sweepSpec disables background sweeping.
func NewMemoryStore(ttl time.Duration, sweepSpec string, logger *slog.Logger) (*MemoryStore, error) {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
	if sweepSpec == "" {
		return s, nil
	}
	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(sweepSpec, func() {
		if n := s.Sweep(); n > 0 {
			s.logger.Debug("expired sessions swept", "count", n)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule session sweep %q: %w", sweepSpec, err)
	}
	s.cron.Start()
	return s, nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (view.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok || s.now().After(entry.expires) {
		return view.State{}, ErrNotFound
	}
	return entry.state.Snapshot(), nil
}

func (s *MemoryStore) Save(ctx context.Context, id string, state view.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		entry.state = view.NewStore(state)
	} else {
		entry.state.Apply(func(view.State) view.State { return state })
	}
	entry.expires = s.now().Add(s.ttl)
	s.entries[id] = entry
	return nil
}

// Sweep removes expired entries and reports how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if now.After(entry.expires) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

package session

import (
	"context"
	"errors"

	"github.com/abdalla-omar/perkmanager/dashboard/internal/view"
)

// ErrNotFound is returned by Load for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Store persists view state per session id.
type Store interface {
	Load(ctx context.Context, id string) (view.State, error)
	Save(ctx context.Context, id string, state view.State) error
	Close()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)

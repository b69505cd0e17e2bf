// Package session binds browser cookies to stored view state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdalla-omar/perkmanager/dashboard/internal/view"
	"github.com/abdalla-omar/perkmanager/pkg/jwt"
)

// Manager issues session cookies and serialises state updates per session.
type Manager struct {
	store      Store
	secret     string
	cookieName string
	secure     bool
	ttl        time.Duration
	locks      *keyedMutex
	logger     *slog.Logger
}

// New constructs a Manager backed by store.
func New(store Store, secret, cookieName string, secure bool, ttl time.Duration, logger *slog.Logger) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret must not be empty")
	}
	if cookieName == "" {
		cookieName = "perk_session"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		store:      store,
		secret:     secret,
		cookieName: cookieName,
		secure:     secure,
		ttl:        ttl,
		locks:      newKeyedMutex(),
		logger:     logger,
	}, nil
}

// Resolve returns the session id carried by r. A missing, tampered or expired
// cookie is replaced by a fresh session.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(m.cookieName); err == nil {
		claims, err := jwt.Parse(cookie.Value, m.secret)
		if err == nil {
			return claims.SessionID, nil
		}
		m.logger.Debug("discarding session cookie", "error", err)
	}
	id := uuid.NewString()
	token, err := jwt.GenerateToken(id, m.secret, m.ttl)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}

// Load returns the stored state, or the zero State for an unknown session.
func (m *Manager) Load(ctx context.Context, id string) (view.State, error) {
	state, err := m.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return view.State{}, nil
	}
	return state, err
}

// Update applies fn to the session's state and saves the result. Updates of
// the same session run one at a time.
func (m *Manager) Update(ctx context.Context, id string, fn func(view.State) view.State) (view.State, error) {
	unlock := m.locks.Lock(id)
	defer unlock()
	state, err := m.Load(ctx, id)
	if err != nil {
		return view.State{}, err
	}
	next := fn(state)
	if err := m.store.Save(ctx, id, next); err != nil {
		return view.State{}, err
	}
	return next, nil
}

// Close releases the underlying store.
func (m *Manager) Close() {
	m.store.Close()
}

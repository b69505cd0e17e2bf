// Package view holds the per-session UI state and renders it to HTML.
//
// A State is a snapshot: every transition returns a new value and leaves the
// receiver untouched, so a handler can hold a snapshot across an outbound call
// and compare it with whatever is current when the response lands.
package view

import (
	"slices"
	"sync"
	"time"

	"github.com/abdalla-omar/perkmanager/pkg/api/client"
)

// Notice levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Global list headings.
const (
	ListingAll = "all"
	ListingTop = "top"
)

// Notice is a one-shot message shown on the next render.
type Notice struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// State is the view model of one browser session.
type State struct {
	Epoch       uint64          `json:"epoch"`
	User        *client.User    `json:"user,omitempty"`
	Owned       []int64         `json:"owned,omitempty"`
	Perks       []client.Perk   `json:"perks,omitempty"`
	Mine        client.Matching `json:"mine"`
	Memberships []string        `json:"memberships,omitempty"`
	Users       []client.User   `json:"users,omitempty"`
	Notices     []Notice        `json:"notices,omitempty"`
	LogoutAt    time.Time       `json:"logoutAt,omitempty"`
	Listing     string          `json:"listing,omitempty"`
}

// LoggedIn reports whether a user is set.
func (s State) LoggedIn() bool {
	return s.User != nil
}

// UserID returns the current user's id, or 0.
func (s State) UserID() int64 {
	if s.User == nil {
		return 0
	}
	return s.User.ID
}

// Owns reports whether perkID is in the owned set.
func (s State) Owns(perkID int64) bool {
	return slices.Contains(s.Owned, perkID)
}

// CanAdd reports whether the add-to-profile control applies to perkID.
func (s State) CanAdd(perkID int64) bool {
	return s.User != nil && !s.Owns(perkID)
}

// WithUser starts a new epoch for u. Per-user data from any previous user is dropped.
func (s State) WithUser(u client.User) State {
	next := s.clearUser()
	next.User = &u
	return next
}

// Cleared logs the session out locally.
func (s State) Cleared() State {
	return s.clearUser()
}

func (s State) clearUser() State {
	s.Epoch++
	s.User = nil
	s.Owned = nil
	s.Mine = client.Matching{}
	s.Memberships = nil
	s.LogoutAt = time.Time{}
	return s
}

// WithOwned replaces the owned perk ids.
func (s State) WithOwned(ids []int64) State {
	s.Owned = slices.Clone(ids)
	return s
}

// AddOwned marks a single perk as owned.
func (s State) AddOwned(id int64) State {
	if s.Owns(id) {
		return s
	}
	s.Owned = append(slices.Clone(s.Owned), id)
	return s
}

// WithPerks replaces the global perk list and its heading.
func (s State) WithPerks(perks []client.Perk, listing string) State {
	s.Perks = slices.Clone(perks)
	if listing == "" {
		listing = ListingAll
	}
	s.Listing = listing
	return s
}

// WithMatching stores the personalised listing and derives the owned set from it.
func (s State) WithMatching(m client.Matching) State {
	s.Mine = m
	s.Owned = m.OwnedIDs()
	return s
}

// WithProfile copies the user's memberships.
func (s State) WithProfile(p client.Profile) State {
	s.Memberships = slices.Clone(p.Memberships)
	return s
}

// WithUsers replaces the user directory.
func (s State) WithUsers(users []client.User) State {
	s.Users = slices.Clone(users)
	return s
}

// PatchPerk replaces every snapshot of p.ID with p. Nothing else changes.
func (s State) PatchPerk(p client.Perk) State {
	s.Perks = client.ReplacePerk(s.Perks, p)
	s.Mine = s.Mine.Replace(p)
	return s
}

// ResolveVote applies a vote result captured under epoch. The patch is
// dropped when the session has since logged out or switched user.
func (s State) ResolveVote(epoch uint64, p client.Perk) (State, bool) {
	if s.Epoch != epoch || s.User == nil {
		return s, false
	}
	return s.PatchPerk(p), true
}

// WithNotice queues a notice.
func (s State) WithNotice(level, text string) State {
	s.Notices = append(slices.Clone(s.Notices), Notice{Level: level, Text: text})
	return s
}

// TakeNotices returns the queued notices and a state without them.
func (s State) TakeNotices() (State, []Notice) {
	notices := s.Notices
	s.Notices = nil
	return s, notices
}

// ScheduleLogout sets a deadline after which the session is cleared.
func (s State) ScheduleLogout(at time.Time) State {
	s.LogoutAt = at
	return s
}

// Expire clears the session when a scheduled logout has passed.
func (s State) Expire(now time.Time) State {
	if s.LogoutAt.IsZero() || now.Before(s.LogoutAt) {
		return s
	}
	return s.Cleared()
}

// Store holds the latest snapshot of one session.
type Store struct {
	mu    sync.Mutex
	state State
}

// NewStore seeds a store with initial.
func NewStore(initial State) *Store {
	return &Store{state: initial}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Apply runs fn against the current state, stores the result and returns it.
func (s *Store) Apply(fn func(State) State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fn(s.state)
	return s.state
}

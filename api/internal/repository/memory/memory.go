package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
	"github.com/abdalla-omar/perkmanager/api/internal/repository"
)

type voteKey struct {
	userID int64
	perkID int64
}

// Store keeps every entity in process memory.
type Store struct {
	mu         sync.RWMutex
	nextUserID int64
	nextPerkID int64
	users      map[int64]*domain.User
	emails     map[string]int64
	perks      map[int64]*domain.Perk
	votes      map[voteKey]domain.VoteType
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		users:  make(map[int64]*domain.User),
		emails: make(map[string]int64),
		perks:  make(map[int64]*domain.Perk),
		votes:  make(map[voteKey]domain.VoteType),
	}
}

var (
	_ repository.UserRepository = (*Store)(nil)
	_ repository.PerkRepository = (*Store)(nil)
	_ repository.VoteRepository = (*Store)(nil)
)

// CreateUser inserts a user and assigns its id.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Email)
	if _, exists := s.emails[key]; exists {
		return repository.ErrConflict
	}
	s.nextUserID++
	user.ID = s.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	stored := cloneUser(*user)
	s.users[user.ID] = &stored
	s.emails[key] = user.ID
	return nil
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := cloneUser(*s.users[id])
	return &u, nil
}

// GetUserByID fetches a user by id.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := cloneUser(*stored)
	return &u, nil
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, cloneUser(*u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// UpdatePassword replaces the stored hash.
func (s *Store) UpdatePassword(ctx context.Context, id int64, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = append([]byte(nil), hash...)
	return nil
}

// AddMembership appends a membership unless already present.
func (s *Store) AddMembership(ctx context.Context, userID int64, membership domain.Membership) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if u.HasMembership(membership) {
		return false, nil
	}
	u.Memberships = append(u.Memberships, membership)
	return true, nil
}

// AddUserPerk records perkID as owned by userID.
func (s *Store) AddUserPerk(ctx context.Context, userID, perkID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, ok := s.perks[perkID]; !ok {
		return repository.ErrNotFound
	}
	if !u.OwnsPerk(perkID) {
		u.Perks = append(u.Perks, perkID)
	}
	return nil
}

// CreatePerk inserts a perk and links it to its poster.
func (s *Store) CreatePerk(ctx context.Context, perk *domain.Perk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.users[perk.PostedBy]
	if !ok {
		return repository.ErrNotFound
	}
	s.nextPerkID++
	perk.ID = s.nextPerkID
	perk.PostedByEmail = owner.Email
	if perk.CreatedAt.IsZero() {
		perk.CreatedAt = time.Now().UTC()
	}
	stored := *perk
	s.perks[perk.ID] = &stored
	owner.Perks = append(owner.Perks, perk.ID)
	return nil
}

// GetPerkByID fetches a perk by id.
func (s *Store) GetPerkByID(ctx context.Context, id int64) (*domain.Perk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.perks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p := *stored
	return &p, nil
}

// ListPerks returns every perk ordered by id.
func (s *Store) ListPerks(ctx context.Context) ([]domain.Perk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPerks(func(domain.Perk) bool { return true }), nil
}

// ListPerksEndingBetween returns perks whose end date lies in (after, until].
func (s *Store) ListPerksEndingBetween(ctx context.Context, after, until time.Time) ([]domain.Perk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPerks(func(p domain.Perk) bool {
		return p.EndDate.After(after) && !p.EndDate.After(until)
	}), nil
}

// CastVote toggles the user's vote under the store lock.
func (s *Store) CastVote(ctx context.Context, perkID, userID int64, cast domain.VoteType) (*domain.Perk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.perks[perkID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if userID == 0 {
		domain.ToggleVote("", cast).Apply(stored)
		p := *stored
		return &p, nil
	}
	if _, ok := s.users[userID]; !ok {
		return nil, repository.ErrNotFound
	}
	key := voteKey{userID: userID, perkID: perkID}
	change := domain.ToggleVote(s.votes[key], cast)
	change.Apply(stored)
	if change.Next == "" {
		delete(s.votes, key)
	} else {
		s.votes[key] = change.Next
	}
	p := *stored
	return &p, nil
}

func (s *Store) sortedPerks(keep func(domain.Perk) bool) []domain.Perk {
	perks := make([]domain.Perk, 0, len(s.perks))
	for _, p := range s.perks {
		if keep(*p) {
			perks = append(perks, *p)
		}
	}
	sort.Slice(perks, func(i, j int) bool { return perks[i].ID < perks[j].ID })
	return perks
}

func cloneUser(u domain.User) domain.User {
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	u.Memberships = append([]domain.Membership(nil), u.Memberships...)
	u.Perks = append([]int64(nil), u.Perks...)
	return u
}

package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
	"github.com/abdalla-omar/perkmanager/api/internal/events"
	"github.com/abdalla-omar/perkmanager/api/internal/repository"
	"github.com/abdalla-omar/perkmanager/api/internal/service"
	"github.com/abdalla-omar/perkmanager/pkg/crypto"
)

// Service handles account and profile workflows.
type Service struct {
	users  repository.UserRepository
	perks  repository.PerkRepository
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, perks repository.PerkRepository, publisher events.Publisher, logger *slog.Logger) Service {
	return Service{users: users, perks: perks, events: publisher, logger: logger, now: time.Now}
}

// Create registers a user with an empty profile.
func (s Service) Create(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, service.Invalid("Email is required")
	}
	if strings.TrimSpace(password) == "" {
		return nil, service.Invalid("Password is required")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, service.Conflict("User already exists with email: %s", email)
		}
		return nil, err
	}
	s.logger.Info("user registered", "user_id", u.ID)
	s.publish(ctx, domain.Event{Type: domain.EventUserRegistered, UserID: u.ID, Email: u.Email, OccurredAt: s.now().UTC()})
	return u, nil
}

// Login verifies credentials and returns the user.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.Unauthorized("Invalid credentials")
		}
		return nil, err
	}
	if err := crypto.ComparePassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, crypto.ErrPasswordMismatch) {
			return nil, service.Unauthorized("Invalid credentials")
		}
		return nil, err
	}
	s.logger.Info("user logged in", "user_id", u.ID)
	return u, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if strings.TrimSpace(current) == "" {
		return service.Invalid("Current password is required")
	}
	if strings.TrimSpace(next) == "" {
		return service.Invalid("New password is required")
	}
	if current == next {
		return service.Invalid("New password must be different from current password")
	}
	u, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	if err := crypto.ComparePassword(u.PasswordHash, current); err != nil {
		if errors.Is(err, crypto.ErrPasswordMismatch) {
			return service.Unauthorized("Current password is incorrect")
		}
		return err
	}
	hash, err := crypto.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.logger.Info("password changed", "user_id", userID)
	return nil
}

// AddMembership attaches a programme to the profile. Adding one twice is a no-op.
func (s Service) AddMembership(ctx context.Context, userID int64, raw string) (*domain.User, error) {
	membership, err := domain.ParseMembership(raw)
	if err != nil {
		return nil, service.Invalid("%s", err.Error())
	}
	added, err := s.users.AddMembership(ctx, userID, membership)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.NotFound("User not found: %d", userID)
		}
		return nil, err
	}
	if added {
		s.logger.Info("membership added", "user_id", userID, "membership", membership)
		s.publish(ctx, domain.Event{Type: domain.EventMembershipAdded, UserID: userID, Membership: membership, OccurredAt: s.now().UTC()})
	} else {
		s.logger.Warn("membership already present", "user_id", userID, "membership", membership)
	}
	return s.get(ctx, userID)
}

// AddPerk adds an existing perk to the user's perks.
func (s Service) AddPerk(ctx context.Context, userID, perkID int64) error {
	if _, err := s.get(ctx, userID); err != nil {
		return err
	}
	perk, err := s.perks.GetPerkByID(ctx, perkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.NotFound("Perk not found: %d", perkID)
		}
		return err
	}
	if err := s.users.AddUserPerk(ctx, userID, perkID); err != nil {
		return err
	}
	s.logger.Info("perk added to user", "user_id", userID, "perk_id", perkID)
	s.publish(ctx, domain.PerkEvent(domain.EventPerkAdded, *perk, userID, s.now()))
	return nil
}

// Profile returns the user with memberships and owned perks.
func (s Service) Profile(ctx context.Context, userID int64) (*domain.User, error) {
	return s.get(ctx, userID)
}

// List returns every registered user.
func (s Service) List(ctx context.Context) ([]domain.User, error) {
	return s.users.ListUsers(ctx)
}

func (s Service) get(ctx context.Context, userID int64) (*domain.User, error) {
	if userID <= 0 {
		return nil, service.Invalid("User ID is required")
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.NotFound("User not found: %d", userID)
		}
		return nil, err
	}
	return u, nil
}

func (s Service) publish(ctx context.Context, event domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", "type", event.Type, "error", err)
	}
}

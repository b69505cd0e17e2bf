package repository

import (
	"context"
	"time"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
)

// UserRepository persists users and their profiles.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdatePassword(ctx context.Context, id int64, hash []byte) error
	// AddMembership returns false when the membership was already present.
	AddMembership(ctx context.Context, userID int64, membership domain.Membership) (bool, error)
	AddUserPerk(ctx context.Context, userID, perkID int64) error
}

// PerkRepository persists perks.
type PerkRepository interface {
	// CreatePerk stores the perk and records it as owned by its poster.
	CreatePerk(ctx context.Context, perk *domain.Perk) error
	GetPerkByID(ctx context.Context, id int64) (*domain.Perk, error)
	ListPerks(ctx context.Context) ([]domain.Perk, error)
	ListPerksEndingBetween(ctx context.Context, after, until time.Time) ([]domain.Perk, error)
}

// VoteRepository applies votes atomically.
type VoteRepository interface {
	// CastVote toggles userID's vote on perkID and returns the updated perk.
	// A zero userID records an anonymous vote that is never toggled.
	CastVote(ctx context.Context, perkID, userID int64, cast domain.VoteType) (*domain.Perk, error)
}

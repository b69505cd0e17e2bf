package perk

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
	"github.com/abdalla-omar/perkmanager/api/internal/events"
	"github.com/abdalla-omar/perkmanager/api/internal/repository"
	"github.com/abdalla-omar/perkmanager/api/internal/service"
)

const (
	// OwnedBucket holds perks the user posted or added.
	OwnedBucket = "Your Perks"
	// MembershipBucket holds perks for the user's memberships they do not own yet.
	MembershipBucket = "Matching Your Memberships"
)

// Buckets groups perks by relevance to a user.
type Buckets map[string][]domain.Perk

// Flatten lists the owned bucket first, then the membership bucket.
func (b Buckets) Flatten() []domain.Perk {
	out := make([]domain.Perk, 0, len(b[OwnedBucket])+len(b[MembershipBucket]))
	out = append(out, b[OwnedBucket]...)
	return append(out, b[MembershipBucket]...)
}

// CreateInput carries the fields of a new perk as received on the wire.
type CreateInput struct {
	UserID      int64  `json:"userId"`
	Description string `json:"description"`
	Membership  string `json:"membership"`
	Product     string `json:"product"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
}

// Service handles perk commands and queries.
type Service struct {
	perks  repository.PerkRepository
	users  repository.UserRepository
	votes  repository.VoteRepository
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Service.
func New(perks repository.PerkRepository, users repository.UserRepository, votes repository.VoteRepository, publisher events.Publisher, logger *slog.Logger) Service {
	return Service{perks: perks, users: users, votes: votes, events: publisher, logger: logger, now: time.Now}
}

// Today is the calendar day used for validation and the active flag.
func (s Service) Today() time.Time {
	return domain.Day(s.now())
}

// Create validates and stores a perk owned by its poster.
func (s Service) Create(ctx context.Context, in CreateInput) (*domain.Perk, error) {
	perk, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	if err := s.perks.CreatePerk(ctx, perk); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.NotFound("User not found: %d", in.UserID)
		}
		return nil, err
	}
	s.logger.Info("perk created", "perk_id", perk.ID, "user_id", perk.PostedBy)
	s.publish(ctx, domain.PerkEvent(domain.EventPerkCreated, *perk, perk.PostedBy, s.now()))
	return perk, nil
}

func (s Service) validate(in CreateInput) (*domain.Perk, error) {
	if in.UserID <= 0 {
		return nil, service.Invalid("User ID is required")
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, service.Invalid("Description is required")
	}
	if strings.TrimSpace(in.Membership) == "" {
		return nil, service.Invalid("Membership type is required")
	}
	membership, err := domain.ParseMembership(in.Membership)
	if err != nil {
		return nil, service.Invalid("%s", err.Error())
	}
	if strings.TrimSpace(in.Product) == "" {
		return nil, service.Invalid("Product type is required")
	}
	product, err := domain.ParseProduct(in.Product)
	if err != nil {
		return nil, service.Invalid("%s", err.Error())
	}
	start, err := parseDate("Start date", in.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("End date", in.EndDate)
	if err != nil {
		return nil, err
	}
	if !end.After(s.Today()) {
		return nil, service.Invalid("End date must be in the future")
	}
	return &domain.Perk{
		Description: description,
		Membership:  membership,
		Product:     product,
		StartDate:   start,
		EndDate:     end,
		PostedBy:    in.UserID,
		CreatedAt:   s.now().UTC(),
	}, nil
}

func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, service.Invalid("%s is required", field)
	}
	t, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		return time.Time{}, service.Invalid("%s must be formatted YYYY-MM-DD", field)
	}
	return t, nil
}

// Upvote toggles userID's upvote. A zero userID counts an anonymous upvote.
func (s Service) Upvote(ctx context.Context, perkID, userID int64) (*domain.Perk, error) {
	return s.vote(ctx, perkID, userID, domain.VoteUp)
}

// Downvote toggles userID's downvote. A zero userID counts an anonymous downvote.
func (s Service) Downvote(ctx context.Context, perkID, userID int64) (*domain.Perk, error) {
	return s.vote(ctx, perkID, userID, domain.VoteDown)
}

func (s Service) vote(ctx context.Context, perkID, userID int64, cast domain.VoteType) (*domain.Perk, error) {
	if perkID <= 0 {
		return nil, service.Invalid("Perk ID is required")
	}
	if userID < 0 {
		return nil, service.Invalid("User ID is invalid")
	}
	perk, err := s.votes.CastVote(ctx, perkID, userID, cast)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if _, lookupErr := s.perks.GetPerkByID(ctx, perkID); errors.Is(lookupErr, repository.ErrNotFound) {
				return nil, service.NotFound("Perk not found: %d", perkID)
			}
			return nil, service.NotFound("User not found: %d", userID)
		}
		return nil, err
	}
	eventType := domain.EventPerkUpvoted
	if cast == domain.VoteDown {
		eventType = domain.EventPerkDownvoted
	}
	s.logger.Info("perk voted", "perk_id", perkID, "user_id", userID, "vote", cast, "net_score", perk.NetScore())
	s.publish(ctx, domain.PerkEvent(eventType, *perk, userID, s.now()))
	return perk, nil
}

// Get returns one perk.
func (s Service) Get(ctx context.Context, perkID int64) (*domain.Perk, error) {
	perk, err := s.perks.GetPerkByID(ctx, perkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.NotFound("Perk not found: %d", perkID)
		}
		return nil, err
	}
	return perk, nil
}

// List returns every perk ordered by id.
func (s Service) List(ctx context.Context) ([]domain.Perk, error) {
	return s.perks.ListPerks(ctx)
}

// ByVotes orders perks by net score, then upvotes, both descending.
func (s Service) ByVotes(ctx context.Context) ([]domain.Perk, error) {
	perks, err := s.perks.ListPerks(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(perks, func(i, j int) bool {
		a, b := perks[i], perks[j]
		if a.NetScore() != b.NetScore() {
			return a.NetScore() > b.NetScore()
		}
		if a.Upvotes != b.Upvotes {
			return a.Upvotes > b.Upvotes
		}
		return a.ID < b.ID
	})
	return perks, nil
}

// ByMembership filters perks by programme.
func (s Service) ByMembership(ctx context.Context, raw string) ([]domain.Perk, error) {
	membership, err := domain.ParseMembership(raw)
	if err != nil {
		return nil, service.Invalid("%s", err.Error())
	}
	return s.filter(ctx, func(p domain.Perk) bool { return p.Membership == membership })
}

// ByProduct filters perks by product category.
func (s Service) ByProduct(ctx context.Context, raw string) ([]domain.Perk, error) {
	product, err := domain.ParseProduct(raw)
	if err != nil {
		return nil, service.Invalid("%s", err.Error())
	}
	return s.filter(ctx, func(p domain.Perk) bool { return p.Product == product })
}

// Matching groups perks into the owned bucket and the membership bucket.
func (s Service) Matching(ctx context.Context, userID int64) (Buckets, error) {
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
	perks, err := s.perks.ListPerks(ctx)
	if err != nil {
		return nil, err
	}
	buckets := Buckets{OwnedBucket: []domain.Perk{}, MembershipBucket: []domain.Perk{}}
	for _, p := range perks {
		switch {
		case u.OwnsPerk(p.ID):
			buckets[OwnedBucket] = append(buckets[OwnedBucket], p)
		case u.HasMembership(p.Membership):
			buckets[MembershipBucket] = append(buckets[MembershipBucket], p)
		}
	}
	return buckets, nil
}

// EndingBetween lists perks whose end date lies in (after, until].
func (s Service) EndingBetween(ctx context.Context, after, until time.Time) ([]domain.Perk, error) {
	return s.perks.ListPerksEndingBetween(ctx, after, until)
}

func (s Service) filter(ctx context.Context, keep func(domain.Perk) bool) ([]domain.Perk, error) {
	perks, err := s.perks.ListPerks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Perk, 0, len(perks))
	for _, p := range perks {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s Service) publish(ctx context.Context, event domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", "type", event.Type, "error", err)
	}
}

package domain

import "time"

// DateLayout is the calendar-day format used for perk validity windows.
const DateLayout = "2006-01-02"

// Perk is a discount tied to a membership and product, voted on by users.
type Perk struct {
	ID            int64
	Description   string
	Membership    Membership
	Product       Product
	StartDate     time.Time
	EndDate       time.Time
	Upvotes       int
	Downvotes     int
	PostedBy      int64
	PostedByEmail string
	CreatedAt     time.Time
}

// NetScore is upvotes minus downvotes.
func (p Perk) NetScore() int {
	return p.Upvotes - p.Downvotes
}

// ActiveOn reports whether day falls strictly inside the validity window.
func (p Perk) ActiveOn(day time.Time) bool {
	d := Day(day)
	return d.After(Day(p.StartDate)) && d.Before(Day(p.EndDate))
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// VoteType is the direction of a user's vote.
type VoteType string

const (
	VoteUp   VoteType = "UPVOTE"
	VoteDown VoteType = "DOWNVOTE"
)

// Vote records one user's current vote on a perk.
type Vote struct {
	UserID int64
	PerkID int64
	Type   VoteType
}

// VoteChange is the effect of a toggle on the perk counters and the stored vote.
type VoteChange struct {
	Upvotes   int
	Downvotes int
	// Next is the vote left in place, or "" when the vote is removed.
	Next VoteType
}

// ToggleVote applies cast on top of the user's existing vote (""
// when none). Repeating a vote withdraws it; the opposite vote switches sides.
func ToggleVote(existing, cast VoteType) VoteChange {
	switch {
	case existing == "":
		return addVote(cast)
	case existing == cast:
		change := addVote(cast)
		change.Upvotes, change.Downvotes = -change.Upvotes, -change.Downvotes
		change.Next = ""
		return change
	default:
		if cast == VoteUp {
			return VoteChange{Upvotes: 1, Downvotes: -1, Next: VoteUp}
		}
		return VoteChange{Upvotes: -1, Downvotes: 1, Next: VoteDown}
	}
}

func addVote(cast VoteType) VoteChange {
	if cast == VoteUp {
		return VoteChange{Upvotes: 1, Next: VoteUp}
	}
	return VoteChange{Downvotes: 1, Next: VoteDown}
}

// Apply adds the change to the perk counters, never going below zero.
func (c VoteChange) Apply(p *Perk) {
	p.Upvotes = max(0, p.Upvotes+c.Upvotes)
	p.Downvotes = max(0, p.Downvotes+c.Downvotes)
}

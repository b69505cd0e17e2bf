package domain

import "time"

// EventType names a domain event published after a successful command.
type EventType string

const (
	EventUserRegistered  EventType = "UserRegistered"
	EventMembershipAdded EventType = "MembershipAdded"
	EventPerkCreated     EventType = "PerkCreated"
	EventPerkAdded       EventType = "PerkAdded"
	EventPerkUpvoted     EventType = "PerkUpvoted"
	EventPerkDownvoted   EventType = "PerkDownvoted"
	EventPerkExpired     EventType = "PerkExpired"
)

// Event is the payload carried on the event channel.
type Event struct {
	Type       EventType  `json:"type"`
	UserID     int64      `json:"userId,omitempty"`
	PerkID     int64      `json:"perkId,omitempty"`
	Email      string     `json:"email,omitempty"`
	Membership Membership `json:"membership,omitempty"`
	Upvotes    int        `json:"upvotes"`
	Downvotes  int        `json:"downvotes"`
	NetScore   int        `json:"netScore"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// PerkEvent builds an event snapshotting the perk's counters.
func PerkEvent(t EventType, p Perk, userID int64, at time.Time) Event {
	return Event{
		Type:       t,
		UserID:     userID,
		PerkID:     p.ID,
		Membership: p.Membership,
		Upvotes:    p.Upvotes,
		Downvotes:  p.Downvotes,
		NetScore:   p.NetScore(),
		OccurredAt: at.UTC(),
	}
}

package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of perk start and end dates.
const DateLayout = "2006-01-02"

// ErrInconsistentPerk flags a perk snapshot whose net score disagrees with its counts.
var ErrInconsistentPerk = errors.New("perk net score does not match votes")

// Membership programmes a perk can be tied to.
var Memberships = []string{"AIRMILES", "AMEX", "CAA", "MASTERCARD", "VISA"}

// Products a perk can apply to.
var Products = []string{"CARS", "DINING", "HOTELS", "MOVIES"}

// Date is a calendar day without time of day.
type Date struct {
	time.Time
}

// ParseDate parses a YYYY-MM-DD value. An empty string yields the zero Date.
func ParseDate(value string) (Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD, or "" when unset.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(DateLayout))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Credentials are the email/password pair used by login and signup.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User reflects API user payloads.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Profile is the user profile read model.
type Profile struct {
	UserID      int64    `json:"userId"`
	Email       string   `json:"email"`
	ProfileID   int64    `json:"profileId,omitempty"`
	Memberships []string `json:"memberships"`
}

// User projects the profile onto the session user record.
func (p Profile) User() User {
	return User{ID: p.UserID, Email: p.Email}
}

// UnmarshalJSON accepts the profile object as well as the bare membership
// array returned by the legacy profile endpoint.
func (p *Profile) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var memberships []string
		if err := json.Unmarshal(trimmed, &memberships); err != nil {
			return err
		}
		*p = Profile{Memberships: memberships}
		return nil
	}
	type profileAlias Profile
	var alias profileAlias
	if err := json.Unmarshal(trimmed, &alias); err != nil {
		return err
	}
	*p = Profile(alias)
	if p.Memberships == nil {
		p.Memberships = []string{}
	}
	return nil
}

// Perk is a read-only snapshot of a perk as served by the API.
type Perk struct {
	ID             int64  `json:"id"`
	Description    string `json:"description"`
	Membership     string `json:"membership"`
	Product        string `json:"product"`
	StartDate      Date   `json:"startDate"`
	EndDate        Date   `json:"endDate"`
	Upvotes        int    `json:"upvotes"`
	Downvotes      int    `json:"downvotes"`
	NetScore       int    `json:"netScore"`
	Active         bool   `json:"active"`
	PostedByEmail  string `json:"postedByEmail,omitempty"`
	PostedByUserID int64  `json:"postedByUserId,omitempty"`
}

// UnmarshalJSON decodes a perk and enforces the vote invariants. Legacy
// payloads without netScore have it filled from the server's own counts.
func (p *Perk) UnmarshalJSON(data []byte) error {
	type perkAlias Perk
	var raw struct {
		perkAlias
		NetScore *int `json:"netScore"`
		PostedBy *struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"postedBy"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	perk := Perk(raw.perkAlias)
	if perk.Upvotes < 0 || perk.Downvotes < 0 {
		return fmt.Errorf("perk %d: negative vote count: %w", perk.ID, ErrInconsistentPerk)
	}
	if raw.NetScore == nil {
		perk.NetScore = perk.Upvotes - perk.Downvotes
	} else {
		perk.NetScore = *raw.NetScore
		if perk.NetScore != perk.Upvotes-perk.Downvotes {
			return fmt.Errorf("perk %d: net %d, votes %d/%d: %w", perk.ID, perk.NetScore, perk.Upvotes, perk.Downvotes, ErrInconsistentPerk)
		}
	}
	if raw.PostedBy != nil {
		if perk.PostedByEmail == "" {
			perk.PostedByEmail = raw.PostedBy.Email
		}
		if perk.PostedByUserID == 0 {
			perk.PostedByUserID = raw.PostedBy.ID
		}
	}
	*p = perk
	return nil
}

// PerkInput carries the user-supplied fields of a new perk.
type PerkInput struct {
	Description string `json:"description"`
	Membership  string `json:"membership"`
	Product     string `json:"product"`
	StartDate   Date   `json:"startDate"`
	EndDate     Date   `json:"endDate"`
}

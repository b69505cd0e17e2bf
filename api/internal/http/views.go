package httpx

import (
	"time"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
	"github.com/abdalla-omar/perkmanager/api/internal/service/perk"
)

type perkView struct {
	ID             int64             `json:"id"`
	Description    string            `json:"description"`
	Membership     domain.Membership `json:"membership"`
	Product        domain.Product    `json:"product"`
	Upvotes        int               `json:"upvotes"`
	Downvotes      int               `json:"downvotes"`
	NetScore       int               `json:"netScore"`
	StartDate      string            `json:"startDate"`
	EndDate        string            `json:"endDate"`
	PostedByEmail  string            `json:"postedByEmail"`
	PostedByUserID int64             `json:"postedByUserId"`
	Active         bool              `json:"active"`
}

func newPerkView(p domain.Perk, today time.Time) perkView {
	return perkView{
		ID:             p.ID,
		Description:    p.Description,
		Membership:     p.Membership,
		Product:        p.Product,
		Upvotes:        p.Upvotes,
		Downvotes:      p.Downvotes,
		NetScore:       p.NetScore(),
		StartDate:      p.StartDate.Format(domain.DateLayout),
		EndDate:        p.EndDate.Format(domain.DateLayout),
		PostedByEmail:  p.PostedByEmail,
		PostedByUserID: p.PostedBy,
		Active:         p.ActiveOn(today),
	}
}

func perkViews(perks []domain.Perk, today time.Time) []perkView {
	out := make([]perkView, 0, len(perks))
	for _, p := range perks {
		out = append(out, newPerkView(p, today))
	}
	return out
}

func bucketViews(buckets perk.Buckets, today time.Time) map[string][]perkView {
	out := make(map[string][]perkView, len(buckets))
	for name, perks := range buckets {
		out[name] = perkViews(perks, today)
	}
	return out
}

type userView struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

func userViews(users []domain.User) []userView {
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, userView{ID: u.ID, Email: u.Email})
	}
	return out
}

type profileView struct {
	UserID      int64               `json:"userId"`
	Email       string              `json:"email"`
	ProfileID   int64               `json:"profileId"`
	Memberships []domain.Membership `json:"memberships"`
}

func newProfileView(u domain.User) profileView {
	memberships := u.Memberships
	if memberships == nil {
		memberships = []domain.Membership{}
	}
	return profileView{UserID: u.ID, Email: u.Email, ProfileID: u.ID, Memberships: memberships}
}

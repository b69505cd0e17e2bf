package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ListPerks returns every perk.
func (c *Client) ListPerks(ctx context.Context) ([]Perk, error) {
	return c.listPerks(ctx, CQRSPrefix+"/perks")
}

// ListPerksByVotes returns perks ordered by descending net score.
func (c *Client) ListPerksByVotes(ctx context.Context) ([]Perk, error) {
	return c.listPerks(ctx, CQRSPrefix+"/perks/by-votes")
}

// ListPerksByMembership returns perks tied to one membership programme.
func (c *Client) ListPerksByMembership(ctx context.Context, membership string) ([]Perk, error) {
	return c.listPerks(ctx, CQRSPrefix+"/perks/by-membership/"+url.PathEscape(membership))
}

// ListPerksByProduct returns perks for one product category.
func (c *Client) ListPerksByProduct(ctx context.Context, product string) ([]Perk, error) {
	return c.listPerks(ctx, CQRSPrefix+"/perks/by-product/"+url.PathEscape(product))
}

func (c *Client) listPerks(ctx context.Context, path string) ([]Perk, error) {
	var perks []Perk
	if err := c.do(ctx, http.MethodGet, path, nil, &perks); err != nil {
		return nil, err
	}
	return perks, nil
}

// MatchingPerks returns the user's personalised perks as a tagged variant,
// whichever shape the server answered with.
func (c *Client) MatchingPerks(ctx context.Context, userID int64) (Matching, error) {
	if userID == 0 {
		return Matching{}, ErrMissingUserID
	}
	data, err := c.doRaw(ctx, http.MethodGet, userPath(userID, "/matching-perks"), nil)
	if err != nil {
		return Matching{}, err
	}
	return DecodeMatching(data)
}

// CreatePerk posts a new perk on behalf of userID.
func (c *Client) CreatePerk(ctx context.Context, userID int64, input PerkInput) (Perk, error) {
	body := struct {
		UserID int64 `json:"userId"`
		PerkInput
	}{UserID: userID, PerkInput: input}
	var perk Perk
	if err := c.do(ctx, http.MethodPost, CQRSPrefix+"/perks", body, &perk); err != nil {
		return Perk{}, err
	}
	return perk, nil
}

// AddPerkToUser adds an existing perk to the user's own perks. Missing ids
// fail immediately without contacting the server, perk id checked first.
func (c *Client) AddPerkToUser(ctx context.Context, userID, perkID int64) error {
	if perkID == 0 {
		return ErrMissingPerkID
	}
	if userID == 0 {
		return ErrMissingUserID
	}
	body := map[string]int64{"userId": userID, "perkId": perkID}
	path := userPath(userID, "/perks/"+strconv.FormatInt(perkID, 10))
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// UpvotePerk records an upvote. A zero userID issues an anonymous vote.
func (c *Client) UpvotePerk(ctx context.Context, perkID, userID int64) (Perk, error) {
	return c.vote(ctx, perkID, userID, "upvote")
}

// DownvotePerk records a downvote. A zero userID issues an anonymous vote.
func (c *Client) DownvotePerk(ctx context.Context, perkID, userID int64) (Perk, error) {
	return c.vote(ctx, perkID, userID, "downvote")
}

func (c *Client) vote(ctx context.Context, perkID, userID int64, direction string) (Perk, error) {
	if perkID == 0 {
		return Perk{}, ErrMissingPerkID
	}
	var body any
	if userID != 0 {
		body = map[string]int64{"userId": userID}
	}
	path := CQRSPrefix + "/perks/" + strconv.FormatInt(perkID, 10) + "/" + direction
	var perk Perk
	if err := c.do(ctx, http.MethodPost, path, body, &perk); err != nil {
		return Perk{}, err
	}
	return perk, nil
}

package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// ListUsers returns every registered user.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, LegacyPrefix, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Login exchanges credentials for the user record. The API answers with
// either "id" or "userId"; both are accepted.
func (c *Client) Login(ctx context.Context, creds Credentials) (User, error) {
	var resp struct {
		ID     int64  `json:"id"`
		UserID int64  `json:"userId"`
		Email  string `json:"email"`
	}
	if err := c.do(ctx, http.MethodPost, LegacyPrefix+"/login", creds, &resp); err != nil {
		return User{}, err
	}
	id := resp.ID
	if id == 0 {
		id = resp.UserID
	}
	if id == 0 {
		return User{}, fmt.Errorf("decode response: login payload carries no user id")
	}
	return User{ID: id, Email: resp.Email}, nil
}

// CreateUser registers a user and returns the created profile.
func (c *Client) CreateUser(ctx context.Context, creds Credentials) (Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodPost, CQRSPrefix+"/users", creds, &profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// GetProfile fetches the user's profile and memberships.
func (c *Client) GetProfile(ctx context.Context, userID int64) (Profile, error) {
	if userID == 0 {
		return Profile{}, ErrMissingUserID
	}
	var profile Profile
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/profile"), nil, &profile); err != nil {
		return Profile{}, err
	}
	if profile.UserID == 0 {
		profile.UserID = userID
	}
	return profile, nil
}

// AddMembership attaches a membership programme to the user's profile.
func (c *Client) AddMembership(ctx context.Context, userID int64, membership string) error {
	if userID == 0 {
		return ErrMissingUserID
	}
	body := map[string]string{"membership": membership}
	return c.do(ctx, http.MethodPost, userPath(userID, "/memberships"), body, nil)
}

// ChangePassword replaces the user's password.
func (c *Client) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	if userID == 0 {
		return ErrMissingUserID
	}
	body := map[string]string{
		"currentPassword": currentPassword,
		"newPassword":     newPassword,
	}
	path := LegacyPrefix + "/" + strconv.FormatInt(userID, 10) + "/password"
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// Health probes the command/query surface.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, CQRSPrefix+"/health", nil, nil)
}

func userPath(userID int64, suffix string) string {
	return CQRSPrefix + "/users/" + strconv.FormatInt(userID, 10) + suffix
}

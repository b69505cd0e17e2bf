package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/abdalla-omar/perkmanager/dashboard/internal/live"
	"github.com/abdalla-omar/perkmanager/dashboard/internal/view"
	apiclient "github.com/abdalla-omar/perkmanager/pkg/api/client"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, func(ctx context.Context, creds apiclient.Credentials) (apiclient.User, error) {
		return s.api.Login(ctx, creds)
	}, "Login failed.")
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	s.authenticate(w, r, func(ctx context.Context, creds apiclient.Credentials) (apiclient.User, error) {
		profile, err := s.api.CreateUser(ctx, creds)
		if err != nil {
			return apiclient.User{}, err
		}
		return profile.User(), nil
	}, "Signup failed.")
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, call func(context.Context, apiclient.Credentials) (apiclient.User, error), fallback string) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	defer s.redirectHome(w, r)

	creds := apiclient.Credentials{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	if creds.Email == "" || creds.Password == "" {
		s.notify(req, view.LevelError, "Enter email and password to log in.")
		return
	}
	user, err := call(req.ctx, creds)
	if err != nil {
		s.fail(req, err, fallback)
		return
	}
	s.update(req, func(st view.State) view.State { return st.WithUser(user) })
	s.loadUsers(req)
	s.refreshUser(req)
	s.refreshGlobal(req)
	s.notify(req, view.LevelSuccess, "Logged in as "+user.Email)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	s.update(req, func(st view.State) view.State {
		return st.Cleared().WithNotice(view.LevelInfo, "Logged out.")
	})
	s.redirectHome(w, r)
}

func (s *Server) handleCreatePerk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	defer s.redirectHome(w, r)
	if !s.requireUser(req) {
		return
	}

	input := apiclient.PerkInput{
		Description: strings.TrimSpace(r.PostFormValue("description")),
		Membership:  r.PostFormValue("membership"),
		Product:     r.PostFormValue("product"),
	}
	var err error
	if input.StartDate, err = apiclient.ParseDate(r.PostFormValue("startDate")); err != nil {
		s.notify(req, view.LevelError, "Start date must be formatted YYYY-MM-DD.")
		return
	}
	if input.EndDate, err = apiclient.ParseDate(r.PostFormValue("endDate")); err != nil {
		s.notify(req, view.LevelError, "End date must be formatted YYYY-MM-DD.")
		return
	}

	epoch := req.state.Epoch
	created, err := s.api.CreatePerk(req.ctx, req.state.UserID(), input)
	if err != nil {
		s.fail(req, err, "Failed to create perk.")
		return
	}
	s.update(req, sameEpoch(epoch, func(st view.State) view.State { return st.AddOwned(created.ID) }))
	s.refreshGlobal(req)
	s.refreshMatching(req)
	s.notify(req, view.LevelSuccess, fmt.Sprintf("Perk created! Net Score: %d, Active: %t", created.NetScore, created.Active))
}

func (s *Server) handleAddPerk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	defer s.redirectHome(w, r)
	if !s.requireUser(req) {
		return
	}
	perkID, ok := pathPerkID(r)
	if !ok {
		s.fail(req, apiclient.ErrMissingPerkID, "Failed to add perk.")
		return
	}
	if err := s.api.AddPerkToUser(req.ctx, req.state.UserID(), perkID); err != nil {
		s.fail(req, err, "Failed to add perk.")
		return
	}
	s.refreshMatching(req)
	s.refreshGlobal(req)
	s.notify(req, view.LevelSuccess, "Perk added to your profile.")
}

func (s *Server) handleUpvote(w http.ResponseWriter, r *http.Request) {
	s.vote(w, r, s.api.UpvotePerk)
}

func (s *Server) handleDownvote(w http.ResponseWriter, r *http.Request) {
	s.vote(w, r, s.api.DownvotePerk)
}

func (s *Server) vote(w http.ResponseWriter, r *http.Request, cast func(ctx context.Context, perkID, userID int64) (apiclient.Perk, error)) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	fetch := isFetch(r)

	if !s.requireUser(req) {
		if fetch {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.redirectHome(w, r)
		return
	}
	perkID, ok := pathPerkID(r)
	if !ok {
		s.fail(req, apiclient.ErrMissingPerkID, "Failed to register vote.")
		s.voteFailed(w, r, req, fetch)
		return
	}

	epoch := req.state.Epoch
	updated, err := cast(req.ctx, perkID, req.state.UserID())
	if err != nil {
		s.fail(req, err, "Failed to register vote.")
		s.voteFailed(w, r, req, fetch)
		return
	}

	applied := false
	s.update(req, func(st view.State) view.State {
		next, ok := st.ResolveVote(epoch, updated)
		applied = ok
		return next
	})
	if !applied {
		s.logger.Debug("stale vote response dropped", "perk_id", perkID)
		if fetch {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.redirectHome(w, r)
		return
	}

	var fragment bytes.Buffer
	if err := view.RenderVotes(&fragment, updated); err != nil {
		s.renderError(w, http.StatusInternalServerError, "render failed", err)
		return
	}
	if !s.cfg.RelayEvents {
		if err := s.hub.PublishPatch(live.Patch{PerkID: updated.ID, HTML: fragment.String()}); err != nil {
			s.logger.Warn("vote broadcast failed", "error", err)
		}
	}
	if !fetch {
		s.redirectHome(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fragment.WriteTo(w)
}

// voteFailed answers a fetch vote with the pending notices, leaving counts as they were.
func (s *Server) voteFailed(w http.ResponseWriter, r *http.Request, req *request, fetch bool) {
	if !fetch {
		s.redirectHome(w, r)
		return
	}
	var notices []view.Notice
	s.update(req, func(st view.State) view.State {
		next, taken := st.TakeNotices()
		notices = taken
		return next
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	if err := view.RenderNotices(w, notices); err != nil {
		s.logger.Error("render notices failed", "error", err)
	}
}

func (s *Server) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	defer s.redirectHome(w, r)
	if !s.requireUser(req) {
		return
	}
	membership := strings.TrimSpace(r.PostFormValue("membership"))
	if membership == "" {
		s.notify(req, view.LevelError, "Select a membership to add.")
		return
	}
	if err := s.api.AddMembership(req.ctx, req.state.UserID(), membership); err != nil {
		s.fail(req, err, "Failed to add membership.")
		return
	}
	s.refreshUser(req)
	s.notify(req, view.LevelSuccess, "Membership added: "+membership)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	defer s.redirectHome(w, r)
	if !s.requireUser(req) {
		return
	}

	current := strings.TrimSpace(r.PostFormValue("currentPassword"))
	next := strings.TrimSpace(r.PostFormValue("newPassword"))
	confirm := strings.TrimSpace(r.PostFormValue("confirmPassword"))
	switch {
	case current == "" || next == "" || confirm == "":
		s.notify(req, view.LevelError, "Please fill in all password fields.")
		return
	case next != confirm:
		s.notify(req, view.LevelError, "New password and confirmation do not match.")
		return
	case current == next:
		s.notify(req, view.LevelError, "New password must be different.")
		return
	}

	epoch := req.state.Epoch
	if err := s.api.ChangePassword(req.ctx, req.state.UserID(), current, next); err != nil {
		switch apiclient.StatusCode(err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			message := strings.TrimSuffix(apiclient.ErrorMessage(err, "Current password is incorrect"), ".")
			s.update(req, sameEpoch(epoch, func(st view.State) view.State {
				return st.Cleared().WithNotice(view.LevelError, message+". Please log in again.")
			}))
		default:
			s.fail(req, err, "Failed to change password.")
		}
		return
	}
	logoutAt := s.now().Add(s.cfg.LogoutDelay)
	s.update(req, sameEpoch(epoch, func(st view.State) view.State {
		return st.
			WithNotice(view.LevelSuccess, "Password changed successfully. You will be logged out shortly.").
			ScheduleLogout(logoutAt)
	}))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	status, code := "ok", http.StatusOK
	api := map[string]any{"status": "up"}
	if err := s.api.Health(ctx); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		api = map[string]any{"status": "down", "error": err.Error()}
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": map[string]any{"api": api},
		"live":       s.hub.Subscribers(),
	})
}

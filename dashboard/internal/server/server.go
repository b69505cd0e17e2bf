package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdalla-omar/perkmanager/dashboard/internal/live"
	"github.com/abdalla-omar/perkmanager/dashboard/internal/session"
	"github.com/abdalla-omar/perkmanager/dashboard/internal/view"
	apiclient "github.com/abdalla-omar/perkmanager/pkg/api/client"
	"github.com/abdalla-omar/perkmanager/pkg/config"
)

const fetchHeader = "X-Requested-With"

// Server hosts the dashboard web UI.
type Server struct {
	cfg      config.DashboardConfig
	api      *apiclient.Client
	sessions *session.Manager
	hub      *live.Hub
	mux      *http.ServeMux
	logger   *slog.Logger
	metrics  *metrics
	now      func() time.Time
}

// New constructs a configured server ready to serve HTTP traffic.
func New(cfg config.DashboardConfig, api *apiclient.Client, sessions *session.Manager, hub *live.Hub, logger *slog.Logger) (*Server, error) {
	if api == nil || sessions == nil || hub == nil {
		return nil, errors.New("dashboard server requires an api client, a session manager and a live hub")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	srv := &Server{
		cfg:      cfg,
		api:      api,
		sessions: sessions,
		hub:      hub,
		mux:      http.NewServeMux(),
		logger:   logger,
		metrics:  newMetrics(),
		now:      time.Now,
	}
	srv.registerRoutes()
	return srv, nil
}

// ServeHTTP conforms to http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.handle("GET /{$}", s.handleHome)
	s.handle("GET /perks", s.handleAllPerks)
	s.handle("GET /perks/top", s.handleTopPerks)
	s.handle("POST /login", s.handleLogin)
	s.handle("POST /signup", s.handleSignup)
	s.handle("POST /logout", s.handleLogout)
	s.handle("POST /perks", s.handleCreatePerk)
	s.handle("POST /perks/{perkId}/add", s.handleAddPerk)
	s.handle("POST /perks/{perkId}/upvote", s.handleUpvote)
	s.handle("POST /perks/{perkId}/downvote", s.handleDownvote)
	s.handle("POST /memberships", s.handleAddMembership)
	s.handle("POST /password", s.handleChangePassword)
	s.handle("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /live", live.ServeWS(s.hub, s.logger))
	s.mux.HandleFunc("GET /live/events", live.ServeSSE(s.hub, s.logger))
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// request bundles the per-request session plumbing.
type request struct {
	ctx    context.Context
	sid    string
	state  view.State
	cancel context.CancelFunc
}

// begin resolves the session and loads its snapshot. On failure a response has
// already been written.
func (s *Server) begin(w http.ResponseWriter, r *http.Request) (*request, bool) {
	sid, err := s.sessions.Resolve(w, r)
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, "session unavailable", err)
		return nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	state, err := s.sessions.Update(ctx, sid, func(st view.State) view.State {
		return st.Expire(s.now())
	})
	if err != nil {
		cancel()
		s.renderError(w, http.StatusInternalServerError, "session unavailable", err)
		return nil, false
	}
	return &request{ctx: ctx, sid: sid, state: state, cancel: cancel}, true
}

// update applies fn to the session, logging store failures.
func (s *Server) update(req *request, fn func(view.State) view.State) view.State {
	next, err := s.sessions.Update(req.ctx, req.sid, fn)
	if err != nil {
		s.logger.Error("session update failed", "error", err)
		return req.state
	}
	req.state = next
	return next
}

// sameEpoch wraps fn so it only runs while the session is still the one that
// issued the request.
func sameEpoch(epoch uint64, fn func(view.State) view.State) func(view.State) view.State {
	return func(st view.State) view.State {
		if st.Epoch != epoch || !st.LoggedIn() {
			return st
		}
		return fn(st)
	}
}

func (s *Server) notify(req *request, level, text string) {
	s.update(req, func(st view.State) view.State { return st.WithNotice(level, text) })
}

func (s *Server) fail(req *request, err error, fallback string) {
	s.logger.Warn("api request failed", "error", err, "status", apiclient.StatusCode(err))
	s.notify(req, view.LevelError, apiclient.ErrorMessage(err, fallback))
}

// requireUser enforces the logged-in precondition without touching the API.
func (s *Server) requireUser(req *request) bool {
	if req.state.LoggedIn() {
		return true
	}
	s.notify(req, view.LevelError, "Please log in first.")
	return false
}

func (s *Server) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) renderPage(w http.ResponseWriter, req *request) {
	var notices []view.Notice
	state := s.update(req, func(st view.State) view.State {
		next, taken := st.TakeNotices()
		notices = taken
		return next
	})
	state.Notices = notices
	var buf bytes.Buffer
	if err := view.RenderPage(&buf, state); err != nil {
		s.renderError(w, http.StatusInternalServerError, "render failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, status int, message string, err error) {
	s.logger.Error("dashboard error", "status", status, "message", message, "error", err)
	http.Error(w, message, status)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	s.loadUsers(req)
	s.refreshGlobal(req)
	if req.state.LoggedIn() {
		s.refreshUser(req)
	}
	s.renderPage(w, req)
}

func (s *Server) handleAllPerks(w http.ResponseWriter, r *http.Request) {
	s.showListing(w, r, view.ListingAll)
}

func (s *Server) handleTopPerks(w http.ResponseWriter, r *http.Request) {
	s.showListing(w, r, view.ListingTop)
}

func (s *Server) showListing(w http.ResponseWriter, r *http.Request, listing string) {
	req, ok := s.begin(w, r)
	if !ok {
		return
	}
	defer req.cancel()
	s.loadPerks(req, listing)
	if req.state.LoggedIn() {
		s.refreshUser(req)
	} else {
		s.loadUsers(req)
	}
	s.renderPage(w, req)
}

func (s *Server) loadUsers(req *request) {
	users, err := s.api.ListUsers(req.ctx)
	if err != nil {
		s.fail(req, err, "Failed to load users.")
		return
	}
	s.update(req, func(st view.State) view.State { return st.WithUsers(users) })
}

func (s *Server) loadPerks(req *request, listing string) {
	var (
		perks []apiclient.Perk
		err   error
	)
	if listing == view.ListingTop {
		perks, err = s.api.ListPerksByVotes(req.ctx)
	} else {
		perks, err = s.api.ListPerks(req.ctx)
	}
	if err != nil {
		s.fail(req, err, "Failed to load perks.")
		return
	}
	s.update(req, func(st view.State) view.State { return st.WithPerks(perks, listing) })
}

// refreshUser reloads the matching perks and profile of the current user.
func (s *Server) refreshUser(req *request) {
	s.refreshMatching(req)
	s.refreshProfile(req)
}

func (s *Server) refreshMatching(req *request) {
	epoch, userID := req.state.Epoch, req.state.UserID()
	matching, err := s.api.MatchingPerks(req.ctx, userID)
	if err != nil {
		s.fail(req, err, "Failed to load your perks.")
		return
	}
	s.update(req, sameEpoch(epoch, func(st view.State) view.State { return st.WithMatching(matching) }))
}

func (s *Server) refreshProfile(req *request) {
	epoch, userID := req.state.Epoch, req.state.UserID()
	profile, err := s.api.GetProfile(req.ctx, userID)
	if err != nil {
		s.fail(req, err, "Failed to load your profile.")
		return
	}
	s.update(req, sameEpoch(epoch, func(st view.State) view.State { return st.WithProfile(profile) }))
}

// refreshGlobal reloads the global list under its current heading.
func (s *Server) refreshGlobal(req *request) {
	listing := req.state.Listing
	if listing == "" {
		listing = view.ListingAll
	}
	s.loadPerks(req, listing)
}

func pathPerkID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("perkId"), 10, 64)
	return id, err == nil && id > 0
}

func isFetch(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get(fetchHeader), "fetch")
}

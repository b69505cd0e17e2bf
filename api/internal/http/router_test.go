package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/abdalla-omar/perkmanager/api/internal/events"
	"github.com/abdalla-omar/perkmanager/api/internal/repository/memory"
	"github.com/abdalla-omar/perkmanager/api/internal/service/perk"
	"github.com/abdalla-omar/perkmanager/api/internal/service/user"
)

type rateLimiterStub struct {
	mu     sync.Mutex
	calls  []rateLimitCall
	takeFn func(key string, limit int, window time.Duration) quota
}

type rateLimitCall struct {
	key    string
	limit  int
	window time.Duration
}

func newRateLimiterStub() *rateLimiterStub {
	return &rateLimiterStub{}
}

func (rl *rateLimiterStub) Take(key string, limit int, window time.Duration) quota {
	rl.mu.Lock()
	rl.calls = append(rl.calls, rateLimitCall{key: key, limit: limit, window: window})
	fn := rl.takeFn
	rl.mu.Unlock()
	if fn != nil {
		return fn(key, limit, window)
	}
	return quota{allowed: true, used: 1, resetAt: time.Now().Add(window)}
}

func (rl *rateLimiterStub) keys() []string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]string, 0, len(rl.calls))
	for _, c := range rl.calls {
		out = append(out, c.key)
	}
	return out
}

func (rl *rateLimiterStub) Close() {}

func setupRouter(t *testing.T, limiter Limiter, dbHealth func(context.Context) error) *Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	publisher := events.NewLogPublisher(logger)
	users := user.New(store, store, publisher, logger)
	perks := perk.New(store, store, store, publisher, logger)
	if limiter == nil {
		limiter = newRateLimiterStub()
	}
	router := NewRouter(logger, users, perks, limiter, dbHealth)
	t.Cleanup(router.Close)
	return router
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func futureDate() string {
	return time.Now().UTC().AddDate(0, 1, 0).Format("2006-01-02")
}

func pastDate() string {
	return time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
}

func createUser(t *testing.T, router http.Handler, email string) int64 {
	t.Helper()
	rr := do(t, router, http.MethodPost, "/api/cqrs/users", `{"email":"`+email+`","password":"secret"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %q", rr.Code, rr.Body.String())
	}
	profile := decode[profileView](t, rr)
	return profile.UserID
}

func createPerk(t *testing.T, router http.Handler, userID int64, membership string) perkView {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"userId":      userID,
		"description": "Free popcorn",
		"membership":  membership,
		"product":     "MOVIES",
		"startDate":   pastDate(),
		"endDate":     futureDate(),
	})
	rr := do(t, router, http.MethodPost, "/api/cqrs/perks", string(body))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create perk: status %d body %q", rr.Code, rr.Body.String())
	}
	return decode[perkView](t, rr)
}

func TestCreateUserAndLogin(t *testing.T) {
	router := setupRouter(t, nil, nil)
	id := createUser(t, router, "a@example.com")

	rr := do(t, router, http.MethodPost, "/api/perkmanager/login", `{"email":"a@example.com","password":"secret"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: status %d", rr.Code)
	}
	got := decode[userView](t, rr)
	if got.ID != id || got.Email != "a@example.com" {
		t.Fatalf("unexpected login payload %+v", got)
	}

	rr = do(t, router, http.MethodPost, "/api/perkmanager/login", `{"email":"a@example.com","password":"bad"}`)
	if rr.Code != http.StatusUnauthorized || rr.Body.String() != "Invalid credentials" {
		t.Fatalf("expected 401 Invalid credentials, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestDuplicateUserStatusDiffersBySurface(t *testing.T) {
	router := setupRouter(t, nil, nil)
	createUser(t, router, "dup@example.com")

	rr := do(t, router, http.MethodPost, "/api/cqrs/users", `{"email":"dup@example.com","password":"x"}`)
	if rr.Code != http.StatusBadRequest || rr.Body.String() != "User already exists with email: dup@example.com" {
		t.Fatalf("cqrs duplicate: %d %q", rr.Code, rr.Body.String())
	}
	rr = do(t, router, http.MethodPost, "/api/perkmanager", `{"email":"dup@example.com","password":"x"}`)
	if rr.Code != http.StatusConflict || rr.Body.String() != "Email already in use" {
		t.Fatalf("legacy duplicate: %d %q", rr.Code, rr.Body.String())
	}
}

func TestCreatePerkValidationIsPlainText(t *testing.T) {
	router := setupRouter(t, nil, nil)
	id := createUser(t, router, "a@example.com")
	body, _ := json.Marshal(map[string]any{"userId": id, "membership": "VISA"})
	rr := do(t, router, http.MethodPost, "/api/cqrs/perks", string(body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr.Body.String() != "Description is required" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}
}

func TestVoteFlowReturnsConsistentSnapshot(t *testing.T) {
	router := setupRouter(t, nil, nil)
	id := createUser(t, router, "a@example.com")
	p := createPerk(t, router, id, "VISA")
	if !p.Active || p.NetScore != 0 || p.PostedByUserID != id {
		t.Fatalf("unexpected created perk %+v", p)
	}

	body := `{"userId":` + itoa(id) + `}`
	rr := do(t, router, http.MethodPost, "/api/cqrs/perks/"+itoa(p.ID)+"/upvote", body)
	got := decode[perkView](t, rr)
	if got.Upvotes != 1 || got.NetScore != 1 {
		t.Fatalf("upvote: %+v", got)
	}
	rr = do(t, router, http.MethodPost, "/api/cqrs/perks/"+itoa(p.ID)+"/downvote", body)
	got = decode[perkView](t, rr)
	if got.Upvotes != 0 || got.Downvotes != 1 || got.NetScore != -1 {
		t.Fatalf("downvote switch: %+v", got)
	}

	rr = do(t, router, http.MethodPost, "/api/cqrs/perks/"+itoa(p.ID)+"/downvote", "")
	got = decode[perkView](t, rr)
	if got.Downvotes != 2 {
		t.Fatalf("anonymous downvote should add, got %+v", got)
	}

	rr = do(t, router, http.MethodPost, "/api/cqrs/perks/999/upvote", "")
	if rr.Code != http.StatusNotFound || rr.Body.String() != "Perk not found: 999" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
}

func TestMatchingPerksShapes(t *testing.T) {
	router := setupRouter(t, nil, nil)
	owner := createUser(t, router, "owner@example.com")
	viewer := createUser(t, router, "viewer@example.com")
	visa := createPerk(t, router, owner, "VISA")
	mine := createPerk(t, router, viewer, "AMEX")

	rr := do(t, router, http.MethodPost, "/api/cqrs/users/"+itoa(viewer)+"/memberships", `{"membership":"visa"}`)
	if rr.Code != http.StatusOK || rr.Body.String() != "Membership added successfully" {
		t.Fatalf("add membership: %d %q", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodGet, "/api/cqrs/users/"+itoa(viewer)+"/matching-perks", "")
	buckets := decode[map[string][]perkView](t, rr)
	if len(buckets["Your Perks"]) != 1 || buckets["Your Perks"][0].ID != mine.ID {
		t.Fatalf("unexpected owned bucket %+v", buckets["Your Perks"])
	}
	if len(buckets["Matching Your Memberships"]) != 1 || buckets["Matching Your Memberships"][0].ID != visa.ID {
		t.Fatalf("unexpected matching bucket %+v", buckets["Matching Your Memberships"])
	}

	rr = do(t, router, http.MethodGet, "/api/cqrs/users/"+itoa(viewer)+"/matching-perks?shape=flat", "")
	flat := decode[[]perkView](t, rr)
	if len(flat) != 2 || flat[0].ID != mine.ID {
		t.Fatalf("unexpected flat list %+v", flat)
	}

	rr = do(t, router, http.MethodPost, "/api/cqrs/users/"+itoa(viewer)+"/perks/"+itoa(visa.ID), `{"userId":1,"perkId":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("add perk: %d %q", rr.Code, rr.Body.String())
	}
	rr = do(t, router, http.MethodGet, "/api/perkmanager/"+itoa(viewer)+"/perks", "")
	owned := decode[[]perkView](t, rr)
	if len(owned) != 2 {
		t.Fatalf("expected two owned perks, got %+v", owned)
	}
}

func TestProfileAndLegacyProfile(t *testing.T) {
	router := setupRouter(t, nil, nil)
	id := createUser(t, router, "a@example.com")
	do(t, router, http.MethodPost, "/api/perkmanager/"+itoa(id)+"/profile", `{"membership":"CAA"}`)

	rr := do(t, router, http.MethodGet, "/api/cqrs/users/"+itoa(id)+"/profile", "")
	profile := decode[profileView](t, rr)
	if profile.Email != "a@example.com" || len(profile.Memberships) != 1 || profile.Memberships[0] != "CAA" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	rr = do(t, router, http.MethodGet, "/api/perkmanager/"+itoa(id)+"/profile", "")
	memberships := decode[[]string](t, rr)
	if len(memberships) != 1 || memberships[0] != "CAA" {
		t.Fatalf("unexpected legacy profile %v", memberships)
	}

	rr = do(t, router, http.MethodPost, "/api/cqrs/users/"+itoa(id)+"/memberships", `{"membership":"GOLD"}`)
	if rr.Code != http.StatusBadRequest || rr.Body.String() != "Invalid membership type: GOLD" {
		t.Fatalf("unexpected invalid membership response %d %q", rr.Code, rr.Body.String())
	}
}

func TestChangePassword(t *testing.T) {
	router := setupRouter(t, nil, nil)
	id := createUser(t, router, "a@example.com")
	path := "/api/perkmanager/" + itoa(id) + "/password"

	rr := do(t, router, http.MethodPut, path, `{"currentPassword":"nope","newPassword":"fresh"}`)
	if rr.Code != http.StatusUnauthorized || rr.Body.String() != "Current password is incorrect" {
		t.Fatalf("wrong current: %d %q", rr.Code, rr.Body.String())
	}
	rr = do(t, router, http.MethodPut, path, `{"currentPassword":"secret","newPassword":"secret"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("same password: %d", rr.Code)
	}
	rr = do(t, router, http.MethodPut, path, `{"currentPassword":"secret","newPassword":"fresh"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("change: %d %q", rr.Code, rr.Body.String())
	}
	if msg := decode[map[string]string](t, rr)["message"]; msg != "Password changed successfully" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestListEndpoints(t *testing.T) {
	router := setupRouter(t, nil, nil)
	id := createUser(t, router, "a@example.com")
	low := createPerk(t, router, id, "VISA")
	high := createPerk(t, router, id, "AMEX")
	do(t, router, http.MethodPost, "/api/perkmanager/perks/"+itoa(high.ID)+"/upvote", "")

	rr := do(t, router, http.MethodGet, "/api/cqrs/perks/by-votes", "")
	ranked := decode[[]perkView](t, rr)
	if len(ranked) != 2 || ranked[0].ID != high.ID || ranked[1].ID != low.ID {
		t.Fatalf("unexpected ranking %+v", ranked)
	}
	rr = do(t, router, http.MethodGet, "/api/cqrs/perks/by-membership/amex", "")
	if got := decode[[]perkView](t, rr); len(got) != 1 || got[0].ID != high.ID {
		t.Fatalf("by membership: %+v", got)
	}
	rr = do(t, router, http.MethodGet, "/api/cqrs/perks/by-product/CARS", "")
	if got := decode[[]perkView](t, rr); len(got) != 0 {
		t.Fatalf("by product: %+v", got)
	}
	rr = do(t, router, http.MethodGet, "/api/perkmanager", "")
	if users := decode[[]userView](t, rr); len(users) != 1 || users[0].ID != id {
		t.Fatalf("users: %+v", users)
	}
	rr = do(t, router, http.MethodGet, "/api/cqrs/perks/"+itoa(low.ID), "")
	if got := decode[perkView](t, rr); got.ID != low.ID {
		t.Fatalf("get perk: %+v", got)
	}
}

func TestInvalidPathID(t *testing.T) {
	router := setupRouter(t, nil, nil)
	rr := do(t, router, http.MethodGet, "/api/cqrs/users/abc/profile", "")
	if rr.Code != http.StatusBadRequest || rr.Body.String() != "Invalid userId: abc" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
}

func TestLoginRateLimited(t *testing.T) {
	limiter := newRateLimiterStub()
	reset := time.Unix(1_950_000_000, 0)
	limiter.takeFn = func(key string, limit int, window time.Duration) quota {
		return quota{allowed: false, used: limit, resetAt: reset}
	}
	router := setupRouter(t, limiter, nil)

	rr := do(t, router, http.MethodPost, "/api/perkmanager/login", `{"email":"a","password":"b"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header %q", got)
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.calls) != 1 || !strings.HasPrefix(limiter.calls[0].key, "login|ip:") {
		t.Fatalf("unexpected limiter calls %+v", limiter.calls)
	}
}

func TestVoteQuotaKeysOnVoterAndPerk(t *testing.T) {
	limiter := newRateLimiterStub()
	router := setupRouter(t, limiter, nil)
	userID := createUser(t, router, "voter@example.com")
	p := createPerk(t, router, userID, "VISA")

	rr := do(t, router, http.MethodPost, "/api/cqrs/perks/"+itoa(p.ID)+"/upvote", `{"userId":`+itoa(userID)+`}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("vote: %d %q", rr.Code, rr.Body.String())
	}
	if got := decode[perkView](t, rr); got.Upvotes != 1 {
		t.Fatalf("vote body lost after quota check: %+v", got)
	}
	rr = do(t, router, http.MethodPost, "/api/perkmanager/perks/"+itoa(p.ID)+"/upvote", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("anonymous vote: %d %q", rr.Code, rr.Body.String())
	}

	keys := limiter.keys()
	wantUser := "vote|user:" + itoa(userID) + ":perk:" + itoa(p.ID)
	var sawUser, sawAnon, sawPoster bool
	for _, k := range keys {
		switch {
		case k == wantUser:
			sawUser = true
		case strings.HasPrefix(k, "vote|ip:") && strings.HasSuffix(k, ":perk:"+itoa(p.ID)):
			sawAnon = true
		case k == "perk|user:"+itoa(userID):
			sawPoster = true
		}
	}
	if !sawUser || !sawAnon || !sawPoster {
		t.Fatalf("unexpected quota keys %v", keys)
	}
}

func TestVoteQuotaIsPerPerk(t *testing.T) {
	router := setupRouter(t, NewMemoryLimiter(), nil)
	userID := createUser(t, router, "flipper@example.com")
	first := createPerk(t, router, userID, "VISA")
	second := createPerk(t, router, userID, "AMEX")
	body := `{"userId":` + itoa(userID) + `}`

	for i := 0; i < votePolicy.limit; i++ {
		rr := do(t, router, http.MethodPost, "/api/cqrs/perks/"+itoa(first.ID)+"/upvote", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("toggle %d: %d %q", i, rr.Code, rr.Body.String())
		}
	}
	rr := do(t, router, http.MethodPost, "/api/cqrs/perks/"+itoa(first.ID)+"/downvote", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d toggles, got %d", votePolicy.limit, rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	rr = do(t, router, http.MethodPost, "/api/cqrs/perks/"+itoa(second.ID)+"/upvote", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("other perk should not share the quota: %d", rr.Code)
	}
}

func TestPerkActivityMetrics(t *testing.T) {
	router := setupRouter(t, nil, nil)
	ups := router.metrics.votes.WithLabelValues("up", "user", "ok")
	missing := router.metrics.votes.WithLabelValues("down", "user", "rejected")
	posted := router.metrics.perksPosted.WithLabelValues("CAA", "MOVIES")
	failedLogins := router.metrics.logins.WithLabelValues("rejected")
	beforeUps, beforeMissing := testutil.ToFloat64(ups), testutil.ToFloat64(missing)
	beforePosted, beforeLogins := testutil.ToFloat64(posted), testutil.ToFloat64(failedLogins)

	userID := createUser(t, router, "metrics@example.com")
	p := createPerk(t, router, userID, "CAA")
	do(t, router, http.MethodPost, "/api/cqrs/perks/"+itoa(p.ID)+"/upvote", `{"userId":`+itoa(userID)+`}`)
	do(t, router, http.MethodPost, "/api/cqrs/perks/999/downvote", `{"userId":`+itoa(userID)+`}`)
	do(t, router, http.MethodPost, "/api/perkmanager/login", `{"email":"metrics@example.com","password":"wrong"}`)

	if got := testutil.ToFloat64(ups) - beforeUps; got != 1 {
		t.Fatalf("upvotes counted %v", got)
	}
	if got := testutil.ToFloat64(missing) - beforeMissing; got != 1 {
		t.Fatalf("rejected downvotes counted %v", got)
	}
	if got := testutil.ToFloat64(posted) - beforePosted; got != 1 {
		t.Fatalf("posted perks counted %v", got)
	}
	if got := testutil.ToFloat64(failedLogins) - beforeLogins; got != 1 {
		t.Fatalf("failed logins counted %v", got)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router := setupRouter(t, nil, func(context.Context) error { return errors.New("db down") })

	rr := do(t, router, http.MethodGet, "/api/cqrs/health", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "CQRS System is operational" {
		t.Fatalf("cqrs health: %d %q", rr.Code, rr.Body.String())
	}
	rr = do(t, router, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected degraded healthz, got %d", rr.Code)
	}
	if status := decode[map[string]any](t, rr)["status"]; status != "degraded" {
		t.Fatalf("unexpected status %v", status)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

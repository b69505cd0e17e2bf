package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abdalla-omar/perkmanager/dashboard/internal/live"
	"github.com/abdalla-omar/perkmanager/dashboard/internal/session"
	apiclient "github.com/abdalla-omar/perkmanager/pkg/api/client"
	"github.com/abdalla-omar/perkmanager/pkg/config"
)

// fakeAPI is a minimal in-memory perk backend.
type fakeAPI struct {
	mu        sync.Mutex
	requests  []string
	perks     []apiclient.Perk
	owned     []int64
	members   []string
	voteBody  string
	voteGate  chan struct{}
	voteStart chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		perks: []apiclient.Perk{
			{ID: 1, Description: "Free popcorn", Membership: "VISA", Product: "MOVIES", Active: true},
			{ID: 2, Description: "Late checkout", Membership: "AMEX", Product: "HOTELS", Active: true},
		},
		owned: []int64{1},
	}
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeAPI) seen(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeAPI) ownedPerks() []apiclient.Perk {
	var out []apiclient.Perk
	for _, p := range f.perks {
		for _, id := range f.owned {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.requests = append(f.requests, r.Method+" "+r.URL.Path)
			f.mu.Unlock()
			next(w, r)
		}
	}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /api/perkmanager", record(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []apiclient.User{{ID: 1, Email: "a@example.com"}})
	}))
	mux.HandleFunc("POST /api/perkmanager/login", record(func(w http.ResponseWriter, r *http.Request) {
		var creds apiclient.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "secret" {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		writeJSON(w, apiclient.User{ID: 1, Email: creds.Email})
	}))
	mux.HandleFunc("POST /api/cqrs/users", record(func(w http.ResponseWriter, r *http.Request) {
		var creds apiclient.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, apiclient.Profile{UserID: 2, Email: creds.Email, Memberships: []string{}})
	}))
	mux.HandleFunc("GET /api/cqrs/perks", record(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.perks)
	}))
	mux.HandleFunc("GET /api/cqrs/perks/by-votes", record(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, []apiclient.Perk{f.perks[1], f.perks[0]})
	}))
	mux.HandleFunc("POST /api/cqrs/perks", record(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		p := apiclient.Perk{ID: int64(len(f.perks) + 1), Description: body["description"].(string), Active: true}
		f.perks = append(f.perks, p)
		f.owned = append(f.owned, p.ID)
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, p)
	}))
	mux.HandleFunc("GET /api/cqrs/users/{id}/matching-perks", record(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, map[string][]apiclient.Perk{apiclient.OwnedBucket: f.ownedPerks()})
	}))
	mux.HandleFunc("GET /api/cqrs/users/{id}/profile", record(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		writeJSON(w, apiclient.Profile{UserID: id, Email: "a@example.com", Memberships: append([]string{}, f.members...)})
	}))
	mux.HandleFunc("POST /api/cqrs/users/{id}/memberships", record(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Membership string `json:"membership"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.members = append(f.members, body.Membership)
		f.mu.Unlock()
		_, _ = io.WriteString(w, "Membership added successfully")
	}))
	mux.HandleFunc("POST /api/cqrs/users/{id}/perks/{perkId}", record(func(w http.ResponseWriter, r *http.Request) {
		perkID, _ := strconv.ParseInt(r.PathValue("perkId"), 10, 64)
		f.mu.Lock()
		f.owned = append(f.owned, perkID)
		f.mu.Unlock()
		_, _ = io.WriteString(w, "Perk added successfully")
	}))
	mux.HandleFunc("POST /api/cqrs/perks/{id}/upvote", record(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.voteBody = string(body)
		gate, start := f.voteGate, f.voteStart
		f.mu.Unlock()
		if start != nil {
			close(start)
		}
		if gate != nil {
			<-gate
		}
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if id > 2 {
			http.Error(w, "Perk not found: "+r.PathValue("id"), http.StatusNotFound)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		p := &f.perks[id-1]
		p.Upvotes++
		p.NetScore = p.Upvotes - p.Downvotes
		writeJSON(w, p)
	}))
	mux.HandleFunc("PUT /api/perkmanager/{id}/password", record(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CurrentPassword string `json:"currentPassword"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.CurrentPassword != "secret" {
			http.Error(w, "Current password is incorrect", http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]string{"message": "Password changed successfully"})
	}))
	mux.HandleFunc("GET /api/cqrs/health", record(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "CQRS System is operational")
	}))
	return mux
}

type harness struct {
	api    *fakeAPI
	srv    *Server
	hub    *live.Hub
	web    *httptest.Server
	client *http.Client
	now    time.Time
	mu     sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := newFakeAPI()
	backend := httptest.NewServer(fake.handler())
	t.Cleanup(backend.Close)

	api, err := apiclient.New(backend.URL)
	require.NoError(t, err)
	store, err := session.NewMemoryStore(time.Hour, "", logger)
	require.NoError(t, err)
	sessions, err := session.New(store, "test-secret", "perk_session", false, time.Hour, logger)
	require.NoError(t, err)
	hub := live.NewHub()
	t.Cleanup(hub.Close)

	cfg := config.DashboardConfig{RequestTimeout: 5 * time.Second, LogoutDelay: 2 * time.Second}
	srv, err := New(cfg, api, sessions, hub, logger)
	require.NoError(t, err)

	h := &harness{api: fake, srv: srv, hub: hub, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	srv.now = func() time.Time {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.now
	}
	h.web = httptest.NewServer(srv)
	t.Cleanup(h.web.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	h.client = &http.Client{Jar: jar}
	return h
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) get(t *testing.T, path string) string {
	t.Helper()
	resp, err := h.client.Get(h.web.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func (h *harness) post(t *testing.T, path string, form url.Values) string {
	t.Helper()
	resp, err := h.client.PostForm(h.web.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// submit posts a form without following the redirect, so only the requests
// made by the handler itself reach the backend.
func (h *harness) submit(t *testing.T, path string, form url.Values) int {
	t.Helper()
	client := &http.Client{
		Jar: h.client.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.PostForm(h.web.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func (h *harness) setPerk(p apiclient.Perk) {
	h.api.mu.Lock()
	defer h.api.mu.Unlock()
	h.api.perks[p.ID-1] = p
}

func (h *harness) fetch(t *testing.T, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.web.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-Requested-With", "fetch")
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (h *harness) login(t *testing.T) string {
	t.Helper()
	return h.post(t, "/login", url.Values{"email": {"a@example.com"}, "password": {"secret"}})
}

func TestInitialLoadShowsPublicSection(t *testing.T) {
	h := newHarness(t)
	page := h.get(t, "/")
	require.Contains(t, page, `id="publicSection"`)
	require.NotContains(t, page, `id="appSection"`)
	require.Contains(t, page, "a@example.com")
	require.Contains(t, page, `id="perk-1"`)
	require.NotContains(t, page, "perk-1-add")
	require.True(t, h.api.seen("GET /api/perkmanager"))
	require.True(t, h.api.seen("GET /api/cqrs/perks"))
}

func TestMutationsRequireLogin(t *testing.T) {
	h := newHarness(t)
	h.get(t, "/")
	before := h.api.count()

	require.Equal(t, http.StatusSeeOther, h.submit(t, "/perks", url.Values{
		"description": {"Free coffee"},
		"membership":  {"VISA"},
		"product":     {"DINING"},
		"startDate":   {"2026-01-01"},
		"endDate":     {"2026-12-31"},
	}))
	require.Equal(t, http.StatusSeeOther, h.submit(t, "/perks/2/add", nil))
	status, _ := h.fetch(t, "/perks/1/upvote")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, http.StatusSeeOther, h.submit(t, "/memberships", url.Values{"membership": {"VISA"}}))
	require.Equal(t, before, h.api.count())
	require.False(t, h.api.seen("POST /api/cqrs/perks"))

	page := h.get(t, "/")
	require.Contains(t, page, "Please log in first.")
}

func TestReloadShowsLatestSnapshot(t *testing.T) {
	h := newHarness(t)
	page := h.get(t, "/")
	require.Contains(t, page, "Net 0")

	h.setPerk(apiclient.Perk{ID: 1, Description: "Free popcorn", Membership: "VISA", Product: "MOVIES", Active: true, Upvotes: 5, NetScore: 5})
	page = h.get(t, "/")
	require.Contains(t, page, "Net 5")

	h.setPerk(apiclient.Perk{ID: 1, Description: "Free popcorn", Membership: "VISA", Product: "MOVIES", Active: true, Upvotes: 7, NetScore: 7})
	page = h.login(t)
	global := page[strings.Index(page, `id="allPerks"`):]
	require.Contains(t, global, "Net 7")
	require.NotContains(t, page, "Net 5")
}

func TestLoginRendersAppSectionAndOwnedPerks(t *testing.T) {
	h := newHarness(t)
	page := h.login(t)
	require.Contains(t, page, "Logged in as a@example.com")
	require.Contains(t, page, `id="appSection"`)
	require.NotContains(t, page, `id="publicSection"`)
	require.NotContains(t, page, `id="perk-1-add"`)
	require.Contains(t, page, `id="perk-2-add"`)

	page = h.get(t, "/")
	require.NotContains(t, page, "Logged in as", "notices are one-shot")
}

func TestLoginFailureShowsServerText(t *testing.T) {
	h := newHarness(t)
	page := h.post(t, "/login", url.Values{"email": {"a@example.com"}, "password": {"wrong"}})
	require.Contains(t, page, "Invalid credentials")
	require.Contains(t, page, `id="publicSection"`)

	page = h.post(t, "/login", url.Values{"email": {""}, "password": {""}})
	require.Contains(t, page, "Enter email and password to log in.")
}

func TestSignupLogsIn(t *testing.T) {
	h := newHarness(t)
	page := h.post(t, "/signup", url.Values{"email": {"new@example.com"}, "password": {"pw"}})
	require.Contains(t, page, "Logged in as new@example.com")
	require.True(t, h.api.seen("POST /api/cqrs/users"))
}

func TestLogoutClearsWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	before := h.api.count()
	require.Equal(t, http.StatusSeeOther, h.submit(t, "/logout", nil))
	require.Equal(t, before, h.api.count())
	page := h.get(t, "/")
	require.Contains(t, page, `id="publicSection"`)
	require.NotContains(t, page, `id="userPerks"`)
	require.Contains(t, page, "Logged out.")
}

func TestVoteReturnsFragmentAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	sub := &captureSubscriber{got: make(chan []byte, 1)}
	h.hub.Register(live.TopicVotes, sub)

	status, body := h.fetch(t, "/perks/1/upvote")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `id="perk-1-votes"`)
	require.Contains(t, body, "↑1 ↓0")
	require.Contains(t, body, "Net 1")
	require.NotContains(t, body, "perk-2")
	h.api.mu.Lock()
	require.JSONEq(t, `{"userId":1}`, h.api.voteBody)
	h.api.mu.Unlock()

	select {
	case payload := <-sub.got:
		var patch live.Patch
		require.NoError(t, json.Unmarshal(payload, &patch))
		require.Equal(t, int64(1), patch.PerkID)
		require.Contains(t, patch.HTML, "Net 1")
	case <-time.After(2 * time.Second):
		t.Fatal("vote patch was not broadcast")
	}

	page := h.get(t, "/")
	require.Contains(t, page, "Net 1")
}

func TestVoteFailureKeepsCounts(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	status, body := h.fetch(t, "/perks/9/upvote")
	require.Equal(t, http.StatusBadGateway, status)
	require.Contains(t, body, "Perk not found: 9")
	require.Contains(t, body, `id="notices"`)
}

func TestStaleVoteIsDropped(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	gate, start := make(chan struct{}), make(chan struct{})
	h.api.mu.Lock()
	h.api.voteGate, h.api.voteStart = gate, start
	h.api.mu.Unlock()

	type result struct {
		status int
		body   string
	}
	done := make(chan result, 1)
	go func() {
		status, body := h.fetch(t, "/perks/1/upvote")
		done <- result{status, body}
	}()
	<-start
	h.post(t, "/logout", nil)
	close(gate)

	res := <-done
	require.Equal(t, http.StatusNoContent, res.status)
	require.Empty(t, res.body)
}

func TestCreatePerkNotice(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	page := h.post(t, "/perks", url.Values{
		"description": {"Free coffee"},
		"membership":  {"VISA"},
		"product":     {"DINING"},
		"startDate":   {"2026-01-01"},
		"endDate":     {"2026-12-31"},
	})
	require.Contains(t, page, "Perk created! Net Score: 0, Active: true")
	require.Contains(t, page, "Free coffee")
	require.NotContains(t, page, `id="perk-3-add"`)

	page = h.post(t, "/perks", url.Values{"description": {"x"}, "startDate": {"01/02/2026"}})
	require.Contains(t, page, "Start date must be formatted YYYY-MM-DD.")
}

func TestAddPerkUpdatesOwned(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	page := h.post(t, "/perks/2/add", nil)
	require.Contains(t, page, "Perk added to your profile.")
	require.NotContains(t, page, `id="perk-2-add"`)
}

func TestAddMembership(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	page := h.post(t, "/memberships", url.Values{"membership": {""}})
	require.Contains(t, page, "Select a membership to add.")
	page = h.post(t, "/memberships", url.Values{"membership": {"CAA"}})
	require.Contains(t, page, "Membership added: CAA")
	require.Contains(t, page, "<li>CAA</li>")
}

func TestPasswordChangeLocalChecks(t *testing.T) {
	cases := []struct {
		name string
		form url.Values
		want string
	}{
		{"mismatch", url.Values{"currentPassword": {"a"}, "newPassword": {"b"}, "confirmPassword": {"c"}}, "New password and confirmation do not match."},
		{"unchanged", url.Values{"currentPassword": {"a"}, "newPassword": {"a"}, "confirmPassword": {"a"}}, "New password must be different."},
		{"unchanged after trim", url.Values{"currentPassword": {"a "}, "newPassword": {" a"}, "confirmPassword": {"a"}}, "New password must be different."},
		{"missing", url.Values{"currentPassword": {"a"}}, "Please fill in all password fields."},
		{"blank", url.Values{"currentPassword": {"a"}, "newPassword": {"  "}, "confirmPassword": {"  "}}, "Please fill in all password fields."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.login(t)
			before := h.api.count()
			require.Equal(t, http.StatusSeeOther, h.submit(t, "/password", tc.form))
			require.Equal(t, before, h.api.count())
			require.Contains(t, h.get(t, "/"), tc.want)
		})
	}
}

func TestPasswordChangeSchedulesLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	page := h.post(t, "/password", url.Values{"currentPassword": {"secret"}, "newPassword": {"next"}, "confirmPassword": {"next"}})
	require.Contains(t, page, "Password changed successfully")
	require.Contains(t, page, `id="appSection"`)

	h.advance(3 * time.Second)
	page = h.get(t, "/")
	require.Contains(t, page, `id="publicSection"`)
}

func TestPasswordRejectionLogsOutImmediately(t *testing.T) {
	h := newHarness(t)
	h.login(t)
	page := h.post(t, "/password", url.Values{"currentPassword": {"bad"}, "newPassword": {"next"}, "confirmPassword": {"next"}})
	require.Contains(t, page, "Current password is incorrect. Please log in again.")
	require.Contains(t, page, `id="publicSection"`)
}

func TestTopPerksListing(t *testing.T) {
	h := newHarness(t)
	page := h.get(t, "/perks/top")
	require.Contains(t, page, "Top perks")
	require.Less(t, strings.Index(page, `id="perk-2"`), strings.Index(page, `id="perk-1"`))
	require.True(t, h.api.seen("GET /api/cqrs/perks/by-votes"))
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, err := h.client.Get(h.web.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Equal(t, "ok", payload["status"])
}

type captureSubscriber struct {
	got chan []byte
}

func (c *captureSubscriber) Send(p []byte) error {
	select {
	case c.got <- p:
	default:
	}
	return nil
}

func (c *captureSubscriber) Close() {}

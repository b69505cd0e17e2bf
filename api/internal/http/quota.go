package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	quotaSweepSchedule = "@every 5m"
	maxActorPeekBytes  = 4 << 10
)

// Limiter counts hits per key inside a fixed window.
type Limiter interface {
	Take(key string, limit int, window time.Duration) quota
	Close()
}

// quota is the state of one key after a Take.
type quota struct {
	allowed bool
	used    int
	resetAt time.Time
}

func (q quota) remaining(limit int) int {
	if left := limit - q.used; left > 0 {
		return left
	}
	return 0
}

// ratePolicy caps how often one actor may hit a group of routes.
type ratePolicy struct {
	name   string
	limit  int
	window time.Duration
	actor  func(*http.Request) string
}

var (
	signupPolicy = ratePolicy{name: "signup", limit: 5, window: time.Minute, actor: actorIP}
	loginPolicy  = ratePolicy{name: "login", limit: 12, window: time.Minute, actor: actorIP}
	votePolicy   = ratePolicy{name: "vote", limit: 10, window: time.Minute, actor: actorVoter}
	postPolicy   = ratePolicy{name: "perk", limit: 20, window: time.Hour, actor: actorPoster}
)

func (r *Router) limit(p ratePolicy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.limiter == nil || p.limit <= 0 {
			next(w, req)
			return
		}
		actor := p.actor(req)
		q := r.limiter.Take(p.name+"|"+actor, p.limit, p.window)
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(p.limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(q.remaining(p.limit)))
		if !q.resetAt.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(q.resetAt.Unix(), 10))
		}
		if !q.allowed {
			r.metrics.rateLimited(p.name, actorKind(actor))
			writeText(w, http.StatusTooManyRequests, "Too many requests, try again later")
			return
		}
		next(w, req)
	}
}

func actorIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// actorVoter keys on the voting user and the perk, so toggling one perk
// cannot starve the voter's casts on others. Anonymous votes key on the address.
func actorVoter(req *http.Request) string {
	userID := peekUserID(req)
	if userID <= 0 {
		return actorIP(req) + ":perk:" + req.PathValue("perkId")
	}
	return "user:" + strconv.FormatInt(userID, 10) + ":perk:" + req.PathValue("perkId")
}

// actorPoster keys on the posting user, from the path on the legacy surface
// and from the body otherwise.
func actorPoster(req *http.Request) string {
	if raw := req.PathValue("userId"); raw != "" {
		return "user:" + raw
	}
	if userID := peekUserID(req); userID > 0 {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	return actorIP(req)
}

func actorKind(actor string) string {
	if idx := strings.IndexByte(actor, ':'); idx > 0 {
		return actor[:idx]
	}
	return "unknown"
}

type peekedBody struct {
	io.Reader
	io.Closer
}

// peekUserID reads the userId field of a JSON body and restores the body for
// the handler.
func peekUserID(req *http.Request) int64 {
	if req.Body == nil || req.Body == http.NoBody {
		return 0
	}
	head, err := io.ReadAll(io.LimitReader(req.Body, maxActorPeekBytes))
	req.Body = peekedBody{Reader: io.MultiReader(bytes.NewReader(head), req.Body), Closer: req.Body}
	if err != nil {
		return 0
	}
	var payload struct {
		UserID int64 `json:"userId"`
	}
	if json.Unmarshal(head, &payload) != nil {
		return 0
	}
	return payload.UserID
}

type memoryLimiter struct {
	mu      sync.Mutex
	windows map[string]quota
	now     func() time.Time
	sweeper *cron.Cron
	once    sync.Once
}

// NewMemoryLimiter constructs a process-local fixed-window limiter whose
// expired windows are swept on a cron schedule.
func NewMemoryLimiter() Limiter {
	l := &memoryLimiter{
		windows: make(map[string]quota),
		now:     time.Now,
		sweeper: cron.New(),
	}
	if _, err := l.sweeper.AddFunc(quotaSweepSchedule, l.sweep); err == nil {
		l.sweeper.Start()
	}
	return l
}

func (l *memoryLimiter) Take(key string, limit int, window time.Duration) quota {
	if limit <= 0 {
		return quota{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.windows[key]
	if !ok || !now.Before(q.resetAt) {
		q = quota{resetAt: now.Add(window)}
	}
	if q.used >= limit {
		q.allowed = false
		return q
	}
	q.used++
	q.allowed = true
	l.windows[key] = q
	return q
}

func (l *memoryLimiter) sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, q := range l.windows {
		if !now.Before(q.resetAt) {
			delete(l.windows, key)
		}
	}
}

func (l *memoryLimiter) Close() {
	l.once.Do(func() { <-l.sweeper.Stop().Done() })
}

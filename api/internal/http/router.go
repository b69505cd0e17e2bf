package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/abdalla-omar/perkmanager/api/internal/service/perk"
	"github.com/abdalla-omar/perkmanager/api/internal/service/user"
)

const (
	legacyPrefix = "/api/perkmanager"
	cqrsPrefix   = "/api/cqrs"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	users    user.Service
	perks    perk.Service
	limiter  Limiter
	dbHealth func(context.Context) error
	metrics  *routerMetrics
}

const healthCheckTimeout = 2 * time.Second

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, users user.Service, perks perk.Service, limiter Limiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		users:    users,
		perks:    perks,
		limiter:  limiter,
		dbHealth: dbHealth,
		metrics:  newRouterMetrics(prometheus.DefaultRegisterer),
	}
	if r.limiter == nil {
		r.limiter = NewMemoryLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// command/query surface
	r.handle("POST "+cqrsPrefix+"/users", r.limit(signupPolicy, r.handleCreateUser))
	r.handle("GET "+cqrsPrefix+"/users", r.handleListUsers)
	r.handle("GET "+cqrsPrefix+"/users/{userId}/profile", r.handleProfile)
	r.handle("POST "+cqrsPrefix+"/users/{userId}/memberships", r.handleAddMembership)
	r.handle("GET "+cqrsPrefix+"/users/{userId}/matching-perks", r.handleMatchingPerks)
	r.handle("POST "+cqrsPrefix+"/users/{userId}/perks/{perkId}", r.handleAddPerkToUser)
	r.handle("POST "+cqrsPrefix+"/perks", r.limit(postPolicy, r.handleCreatePerk))
	r.handle("GET "+cqrsPrefix+"/perks", r.handleListPerks)
	r.handle("GET "+cqrsPrefix+"/perks/by-votes", r.handlePerksByVotes)
	r.handle("GET "+cqrsPrefix+"/perks/by-membership/{membership}", r.handlePerksByMembership)
	r.handle("GET "+cqrsPrefix+"/perks/by-product/{product}", r.handlePerksByProduct)
	r.handle("GET "+cqrsPrefix+"/perks/{perkId}", r.handleGetPerk)
	r.handle("POST "+cqrsPrefix+"/perks/{perkId}/upvote", r.limit(votePolicy, r.handleUpvote))
	r.handle("POST "+cqrsPrefix+"/perks/{perkId}/downvote", r.limit(votePolicy, r.handleDownvote))
	r.handle("GET "+cqrsPrefix+"/health", r.handleCQRSHealth)

	// legacy user/login surface
	r.handle("GET "+legacyPrefix, r.handleListUsers)
	r.handle("GET "+legacyPrefix+"/users", r.handleListUsers)
	r.handle("POST "+legacyPrefix, r.limit(signupPolicy, r.handleLegacyCreateUser))
	r.handle("POST "+legacyPrefix+"/login", r.limit(loginPolicy, r.handleLogin))
	r.handle("GET "+legacyPrefix+"/perks", r.handleListPerks)
	r.handle("GET "+legacyPrefix+"/{userId}/perks", r.handleLegacyUserPerks)
	r.handle("POST "+legacyPrefix+"/{userId}/perks", r.limit(postPolicy, r.handleLegacyCreatePerk))
	r.handle("POST "+legacyPrefix+"/perks/{perkId}/upvote", r.limit(votePolicy, r.handleUpvote))
	r.handle("PUT "+legacyPrefix+"/{userId}/password", r.handleChangePassword)
	r.handle("GET "+legacyPrefix+"/{userId}/profile", r.handleLegacyProfile)
	r.handle("POST "+legacyPrefix+"/{userId}/profile", r.handleLegacyAddMembership)
}

func (r *Router) handle(pattern string, next http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.audit(next))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		route := req.Pattern
		if route == "" {
			route = req.URL.Path
		}
		r.metrics.request(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if userID := req.PathValue("userId"); userID != "" {
			fields = append(fields, "user_id", userID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

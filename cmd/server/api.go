package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/codeGROOVE-dev/groupwatch/internal/bot"
	"github.com/codeGROOVE-dev/groupwatch/internal/latency"
	"github.com/codeGROOVE-dev/groupwatch/internal/notify"
)

// apiServer serves health checks and the admin API.
type apiServer struct {
	stats   StatsSource
	latency LatencySource
	sends   SendStats
	// allow is the configured responder allow-list; empty means everyone.
	allow   []string
	started time.Time
	now     func() time.Time
}

type statusResponse struct {
	UptimeSeconds int64        `json:"uptime_seconds"`
	Coordinator   bot.Stats    `json:"coordinator"`
	Sends         notify.Stats `json:"sends"`
}

type latencyResponse struct {
	Month      string          `json:"month"`
	Responders []latency.Stats `json:"responders"`
}

// newRouter builds the HTTP routes. The /api routes are only mounted when
// signingKey is set.
func newRouter(api *apiServer, signingKey []byte) *mux.Router {
	router := mux.NewRouter()
	router.Use(securityHeadersMiddleware)

	// Health endpoints
	router.HandleFunc("/", healthHandler).Methods("GET")
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/healthz", api.healthzHandler).Methods("GET")

	if len(signingKey) == 0 {
		slog.Info("API_SIGNING_KEY not set, admin API disabled")
		return router
	}

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(bearerAuthMiddleware(signingKey))
	apiRouter.HandleFunc("/status", api.statusHandler).Methods("GET")
	apiRouter.HandleFunc("/latency", api.latencyHandler).Methods("GET")
	return router
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		slog.Debug("health write error", "error", err)
	}
}

func (a *apiServer) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	s := a.stats.Stats()
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, "ok - %d messages, %d armed, %d alerts\n", s.Messages, s.ArmedChannels, s.Escalations); err != nil {
		slog.Debug("healthz write error", "error", err)
	}
}

func (a *apiServer) statusHandler(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		UptimeSeconds: int64(a.now().Sub(a.started).Seconds()),
		Coordinator:   a.stats.Stats(),
	}
	if a.sends != nil {
		resp.Sends = a.sends.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *apiServer) latencyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month := q.Get("month")
	if month == "" {
		month = a.latency.YearMonth(a.now())
	} else if _, err := latency.ParseMonth(month); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	allow, ok := responderFilter(a.allow, q["responder"])
	if !ok {
		writeJSON(w, http.StatusOK, latencyResponse{Month: month, Responders: []latency.Stats{}})
		return
	}

	stats, err := a.latency.Aggregate(r.Context(), month, allow)
	if err != nil {
		slog.Warn("latency aggregation failed", "month", month, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load reply times")
		return
	}
	if stats == nil {
		stats = []latency.Stats{}
	}
	writeJSON(w, http.StatusOK, latencyResponse{Month: month, Responders: stats})
}

// responderFilter narrows the configured allow-list with the requested
// responders. ok is false when the request names no allowed responder.
func responderFilter(configured, requested []string) (allow []string, ok bool) {
	if len(configured) == 0 {
		return requested, true
	}
	if len(requested) == 0 {
		return configured, true
	}
	allowed := make(map[string]bool, len(configured))
	for _, c := range configured {
		allowed[latency.NormalizeHandle(c)] = true
	}
	for _, r := range requested {
		if allowed[latency.NormalizeHandle(r)] {
			allow = append(allow, r)
		}
	}
	return allow, len(allow) > 0
}

// bearerAuthMiddleware requires an unexpired HS256 token signed with key.
func bearerAuthMiddleware(key []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				slog.Info("rejected API request", "path", r.URL.Path, "error", err)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("json write error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

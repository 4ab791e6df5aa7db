// Package server exposes the sync pipeline over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"bioquest/internal/ratelimit"
	"bioquest/internal/util"
	"bioquest/pkg/domain"
	"bioquest/pkg/inat"
	syncpkg "bioquest/pkg/sync"
	"bioquest/services/sync/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Limiter *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the sync service.
type Server struct {
	app     *app.App
	limiter *ratelimit.FixedWindowLimiter
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		limiter: cfg.Limiter,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("sync", s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/users/", s.handleUserByID)

	s.mux.HandleFunc("/api/sync", s.handleSync)
	s.mux.HandleFunc("/api/sync/verify", s.handleVerify)

	s.mux.HandleFunc("/api/queue/status", s.handleQueueStatus)
	s.mux.HandleFunc("/api/queue/process", s.handleQueueProcess)
	s.mux.HandleFunc("/api/queue/retry", s.handleQueueRetry)
	s.mux.HandleFunc("/api/queue/clear", s.handleQueueClear)

	s.mux.HandleFunc("/api/leaderboard", s.handleLeaderboard)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && r.URL.Path != "/healthz" {
			key, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				key = r.RemoteAddr
			}
			if !s.limiter.Allow(key) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	ID           string `json:"id,omitempty"`
	INatUsername string `json:"inatUsername"`
	Region       string `json:"region,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.RegisterUser(domain.User{
		ID:           strings.TrimSpace(req.ID),
		INatUsername: strings.TrimSpace(req.INatUsername),
		Region:       strings.TrimSpace(req.Region),
		AccessToken:  req.AccessToken,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// /api/users/{id}/stats or /api/users/{id}/rank
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		notFound(w, "not found")
		return
	}
	id := parts[0]
	switch parts[1] {
	case "stats":
		stats, found, err := s.app.UserStats(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !found {
			notFound(w, "stats not found")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	case "rank":
		entry, err := s.app.UserRank(r.Context(), id)
		if err != nil {
			notFound(w, "user not ranked")
			return
		}
		writeJSON(w, http.StatusOK, entry)
	default:
		notFound(w, "not found")
	}
}

type userRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) decodeUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req userRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return "", false
	}
	return userID, true
}

type syncRequest struct {
	UserID string `json:"userId"`
	Full   bool   `json:"full,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req syncRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	result, err := s.app.SyncUser(r.Context(), userID, req.Full)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	result, err := s.app.VerifyUser(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	summary, err := s.app.QueueStatus(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleQueueProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	userID, ok := s.decodeUserID(w, r)
	if !ok {
		return
	}
	result, err := s.app.ProcessQueue(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	userID, ok := s.decodeUserID(w, r)
	if !ok {
		return
	}
	retried, err := s.app.RetryQueue(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"retried": retried})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	userID, ok := s.decodeUserID(w, r)
	if !ok {
		return
	}
	cleared, err := s.app.ClearQueue(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.app.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

// writeAppError maps pipeline failures onto HTTP statuses: unknown users are
// 404, a concurrent sync is 409, upstream auth failures are 401, rate limits
// and transient upstream failures carry a retryAfter hint.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, syncpkg.ErrUserNotFound):
		notFound(w, "user not found")
	case errors.Is(err, app.ErrUsernameRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case syncpkg.IsConflict(err):
		writeError(w, http.StatusConflict, "sync already in progress")
	default:
		var ce *syncpkg.ClassifiedError
		if errors.As(err, &ce) {
			switch {
			case ce.Severity == syncpkg.SeverityFatal:
				writeError(w, http.StatusUnauthorized, "observation API rejected credentials")
			case inat.StatusOf(err) == http.StatusTooManyRequests:
				writeRetryError(w, http.StatusTooManyRequests, "observation API rate limit", ce)
			default:
				writeRetryError(w, http.StatusServiceUnavailable, "observation API unavailable", ce)
			}
			return
		}
		if inat.IsAuthError(err) {
			writeError(w, http.StatusUnauthorized, "observation API rejected credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeRetryError(w http.ResponseWriter, status int, msg string, ce *syncpkg.ClassifiedError) {
	retryAfter := int(ce.RetryAfter.Seconds())
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeJSON(w, status, errorResponse{
		Error:      msg,
		RetryAfter: retryAfter,
		RequestID:  strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

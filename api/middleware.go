package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"auditdesk/access"
	"auditdesk/metrics"
	"auditdesk/storage"
)

// Login attempts allowed per IP: a burst of 5, then one every 12 seconds.
const (
	loginRate  = rate.Limit(1.0 / 12)
	loginBurst = 5
)

// requestIDMiddleware tags each request with an id for log correlation.
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware counts requests by route template and status.
func (a *API) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		a.logger.Debugw("Request served",
			"request_id", GetRequestIDOrDefault(r.Context()),
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// loginRateLimit throttles login attempts per client IP.
func (a *API) loginRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		a.loginLimitersMu.Lock()
		entry, exists := a.loginLimiters[ip]
		if !exists {
			entry = &rateLimiterEntry{limiter: rate.NewLimiter(loginRate, loginBurst)}
			a.loginLimiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		// Capture limiter reference while holding lock
		limiter := entry.limiter
		a.loginLimitersMu.Unlock()

		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Too many login attempts", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupLoginLimiters periodically removes idle limiters.
func (a *API) cleanupLoginLimiters() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.loginLimitersMu.Lock()
			for ip, entry := range a.loginLimiters {
				if time.Since(entry.lastSeen) > time.Hour {
					delete(a.loginLimiters, ip)
				}
			}
			a.loginLimitersMu.Unlock()
		case <-a.stopCh:
			return
		}
	}
}

// authMiddleware resolves the bearer token to a profile and attaches a
// per-request session to the context.
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
			return
		}

		claims, err := validateJWT(tokenString, a.config.Auth.JWTSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", err, a.logger)
			return
		}

		profile, err := a.store.ProfileByID(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "Invalid or expired token", nil, a.logger)
				return
			}
			writeError(w, http.StatusInternalServerError, "Failed to load user", err, a.logger)
			return
		}

		session := storage.NewSession(a.store, a.authOpts, a.logger)
		session.SetCurrentUser(profile)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// verbForMethod maps HTTP methods to access verbs.
func verbForMethod(method string) (access.Verb, bool) {
	switch method {
	case http.MethodGet:
		return access.VerbSelect, true
	case http.MethodPost:
		return access.VerbInsert, true
	case http.MethodPatch:
		return access.VerbUpdate, true
	case http.MethodDelete:
		return access.VerbDelete, true
	}
	return "", false
}

// accessMiddleware enforces the access engine on table routes. Unknown
// tables are denied like any other refusal.
func (a *API) accessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := GetSession(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
			return
		}

		vars := mux.Vars(r)
		verb, ok := verbForMethod(r.Method)
		if !ok {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil, a.logger)
			return
		}

		// Unknown names go to the engine as-is so the denial reason names them.
		table := storage.Table(vars["table"])
		if err := a.access.ValidateAccess(r.Context(), session.CurrentUser(), table, verb, vars["id"]); err != nil {
			var denied *access.DeniedError
			if errors.As(err, &denied) {
				a.logger.Infow("Access denied",
					"request_id", GetRequestIDOrDefault(r.Context()),
					"user_id", session.CurrentUser().UserID,
					"table", vars["table"],
					"verb", verb,
					"reason", denied.Reason)
				http.Error(w, denied.Error(), http.StatusForbidden)
				return
			}
			writeError(w, http.StatusInternalServerError, "Access check failed", err, a.logger)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithTable(r.Context(), table)))
	})
}

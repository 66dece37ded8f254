package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-dashboard/internal/auth"
	"github.com/ukydev/fleet-dashboard/internal/models"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// TokenValidator is the part of the auth service the middleware needs.
type TokenValidator interface {
	ValidateToken(token string) (*models.Claims, error)
}

// RevocationChecker reports tokens that were signed out before expiring.
type RevocationChecker interface {
	Revoked(ctx context.Context, tokenID string) (bool, error)
}

// AuthMiddleware provides JWT authentication middleware
type AuthMiddleware struct {
	tokens  TokenValidator
	revoked RevocationChecker
	logger  logrus.FieldLogger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenValidator, logger logrus.FieldLogger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, logger: logger}
}

// WithRevocations makes Authenticate reject signed-out tokens.
func (m *AuthMiddleware) WithRevocations(revoked RevocationChecker) *AuthMiddleware {
	m.revoked = revoked
	return m
}

// Authenticate validates the bearer token and stores its claims in the
// request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := RequestToken(r)
		if err != nil {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		log := m.logger.WithFields(logrus.Fields{
			"path":   r.URL.Path,
			"remote": r.RemoteAddr,
		})
		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			log.WithError(err).Debug("rejected token")
			http.Error(w, auth.Message(err), http.StatusUnauthorized)
			return
		}
		if err := m.checkRevoked(r.Context(), claims); err != nil {
			if errors.Is(err, auth.ErrRevokedToken) {
				log.WithField("account", claims.UserID).Debug("rejected signed-out token")
				http.Error(w, auth.Message(err), http.StatusUnauthorized)
				return
			}
			log.WithError(err).Error("Failed to check token revocation")
			http.Error(w, auth.Message(err), http.StatusServiceUnavailable)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestToken reads the bearer token, or ?token= on websocket upgrades
// where browsers cannot set headers.
func RequestToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" && websocket.IsWebSocketUpgrade(r) {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
	}
	return auth.ExtractTokenFromHeader(header)
}

func (m *AuthMiddleware) checkRevoked(ctx context.Context, claims *models.Claims) error {
	if m.revoked == nil || claims.ID == "" {
		return nil
	}
	revoked, err := m.revoked.Revoked(ctx, claims.ID)
	if err != nil {
		return err
	}
	if revoked {
		return auth.ErrRevokedToken
	}
	return nil
}

// RequirePermission checks the caller's role against an action.
func (m *AuthMiddleware) RequirePermission(requiredAction string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetUserFromContext(r.Context())
			if !ok {
				http.Error(w, "User context not found", http.StatusUnauthorized)
				return
			}

			if !models.RoleAllows(claims.Role, requiredAction) {
				m.logger.WithFields(logrus.Fields{
					"account": claims.UserID,
					"role":    claims.Role,
					"action":  requiredAction,
				}).Info("permission denied")
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*models.Claims)
	return claims, ok
}

// WithUser returns a context carrying claims, as Authenticate would.
func WithUser(ctx context.Context, claims *models.Claims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

func shouldSkipAuth(path string) bool {
	skipPaths := []string{
		"/api/auth/login",
		"/api/auth/signup",
		"/api/layout",
		"/health",
	}

	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// RateLimitMiddleware limits requests per client IP over a sliding window.
// Forwarded-for headers only name the client when TrustProxy is set.
type RateLimitMiddleware struct {
	TrustProxy bool

	requests  map[string][]time.Time
	lastSweep time.Time
	mu        sync.Mutex
	now       func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware
func NewRateLimitMiddleware(trustProxy bool) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		TrustProxy: trustProxy,
		requests:   make(map[string][]time.Time),
		now:        time.Now,
	}
}

// RateLimit allows maxRequests per client IP in every window.
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.allow(getClientIP(r, m.TrustProxy), maxRequests, window) {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) allow(clientIP string, maxRequests int, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	windowStart := now.Add(-window)
	if now.Sub(m.lastSweep) >= window {
		m.sweep(windowStart)
		m.lastSweep = now
	}

	valid := inWindow(m.requests[clientIP], windowStart)
	if len(valid) >= maxRequests {
		m.requests[clientIP] = valid
		return false
	}
	m.requests[clientIP] = append(valid, now)
	return true
}

// sweep forgets clients with no request inside the window.
func (m *RateLimitMiddleware) sweep(windowStart time.Time) {
	for ip, times := range m.requests {
		if valid := inWindow(times, windowStart); len(valid) == 0 {
			delete(m.requests, ip)
		} else {
			m.requests[ip] = valid
		}
	}
}

func inWindow(times []time.Time, windowStart time.Time) []time.Time {
	valid := times[:0]
	for _, ts := range times {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	return valid
}

// Logging writes one logrus entry per request.
func Logging(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			}).Debug("request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
			return strings.TrimSpace(strings.Split(ip, ",")[0])
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

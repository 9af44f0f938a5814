package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtchat/backend/internal/auth"
)

const hubPrefix = "/hub/"

var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthorization = errors.New("invalid authorization")
)

type TokenParser interface {
	ParseToken(token string) (auth.User, error)
}

// HandleCORS writes CORS headers for an allowed origin and answers
// preflight requests. It reports whether the request was fully handled.
func HandleCORS(w http.ResponseWriter, r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if allowed := matchOrigin(origin, allowedOrigins); allowed != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
		if allowed != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
	}
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func matchOrigin(origin string, allowed []string) string {
	for _, candidate := range allowed {
		if candidate == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(candidate, origin) {
			return origin
		}
	}
	return ""
}

func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if HandleCORS(w, r, allowedOrigins) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Authenticate reads a bearer token from the Authorization header. Hub
// requests may pass it as the access_token query parameter instead, since
// browsers cannot set headers on websocket handshakes.
func Authenticate(r *http.Request, parser TokenParser) (auth.User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if strings.HasPrefix(r.URL.Path, hubPrefix) {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return parser.ParseToken(token)
			}
		}
		return auth.User{}, ErrMissingAuthorization
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return auth.User{}, ErrInvalidAuthorization
	}
	return parser.ParseToken(strings.TrimSpace(parts[1]))
}

// RequireUser rejects unauthenticated requests and stores the user on the
// request context.
func RequireUser(parser TokenParser, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := Authenticate(r, parser)
			if err != nil {
				logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected unauthenticated request.")
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}

type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
	items  map[string]*rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, now: time.Now, items: map[string]*rateEntry{}}
}

func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.items[key]
	if !ok || now.After(entry.reset) {
		rl.sweepLocked(now)
		rl.items[key] = &rateEntry{count: 1, reset: now.Add(rl.window)}
		return true
	}
	if entry.count >= rl.limit {
		return false
	}
	entry.count++
	return true
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for key, entry := range rl.items {
		if now.After(entry.reset) {
			delete(rl.items, key)
		}
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientKey(r)) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey is the peer host. Forwarding headers are not read here; the
// router rewrites RemoteAddr from them only behind a trusted proxy.
func ClientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/kairosauth"
)

// SessionCookieName is the cookie checked when no Authorization header is
// present.
const SessionCookieName = "kairos_session"

type sessionContextKey struct{}

// SessionFromContext returns the session validated by Guard.
func SessionFromContext(ctx context.Context) (*kairosauth.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*kairosauth.Session)
	return sess, ok
}

// WithSession stores sess in ctx the same way Guard does.
func WithSession(ctx context.Context, sess *kairosauth.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// Guard rejects requests without a live session. The access token is read
// from a Bearer Authorization header or the session cookie.
func Guard(engine *kairosauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := accessToken(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sess, err := engine.ValidateSession(r.Context(), token)
			if err != nil {
				if errors.Is(err, kairosauth.ErrBackendUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// RequireSecondFactor allows only sessions completed with TOTP or a backup
// code. It must run after Guard.
func RequireSecondFactor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if sess.AuthMethod == kairosauth.AuthMethodPassword {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

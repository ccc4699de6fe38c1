// internal/app/system/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session constants                                                          |
*─────────────────────────────────────────────────────────────────────────────*/

// DefaultSessionName is the cookie name the platform web app writes.
const DefaultSessionName = "hub-session"

// Session value keys. They must match what the web app stores at login.
const (
	isAuthKey = "is_authenticated"
	userIDKey = "user_id"
	userName  = "user_name"
)

// Authentication sources recorded on SessionUser.Via.
const (
	ViaSession = "session"
	ViaToken   = "token"
)

// ErrUnauthenticated means the request carried no valid session or token.
var ErrUnauthenticated = errors.New("unauthenticated")

/*─────────────────────────────────────────────────────────────────────────────*
| Current-User helper                                                        |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionUser is the authenticated identity injected into r.Context().
type SessionUser struct {
	ID   string
	Name string
	Via  string
}

type ctxKey string

const currentUserKey ctxKey = "currentUser"

// CurrentUser returns the user & “found?” flag.
func CurrentUser(r *http.Request) (*SessionUser, bool) {
	u, ok := r.Context().Value(currentUserKey).(*SessionUser)
	return u, ok && u != nil
}

// WithUser returns a copy of r carrying u as the current user.
func WithUser(r *http.Request, u *SessionUser) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), currentUserKey, u))
}

// tokenClaims are the claims accepted on bearer tokens. sub is the user id.
type tokenClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

/*─────────────────────────────────────────────────────────────────────────────*
| SessionManager                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

// SessionManager verifies the platform's session cookie and HS256 bearer
// tokens. It never writes sessions or mints tokens.
type SessionManager struct {
	store     *sessions.CookieStore
	name      string
	jwtSecret []byte
	log       *zap.Logger
}

// NewSessionManager builds a SessionManager.
//
// sessionKey must be the web app's cookie signing key for session cookies to
// verify. When it is empty a random key is generated; session cookies then
// never validate and only bearer tokens work, which is only useful in dev.
// An empty jwtSecret disables bearer tokens.
func NewSessionManager(sessionKey, sessionName, domain string, secure bool, jwtSecret string, logger *zap.Logger) (*SessionManager, error) {
	if sessionName == "" {
		sessionName = DefaultSessionName
	}

	key := []byte(sessionKey)
	switch {
	case sessionKey == "":
		key = securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, fmt.Errorf("generate session key: entropy source failed")
		}
		logger.Warn("no session key configured; generated a random one, session cookies will not verify")
	case len(sessionKey) < 32:
		logger.Warn("session key is short; 32+ chars recommended",
			zap.Int("length", len(sessionKey)))
	}

	store := sessions.NewCookieStore(key)
	opts := &sessions.Options{
		Domain:   domain,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
	}
	if secure {
		opts.SameSite = http.SameSiteNoneMode
	} else {
		opts.SameSite = http.SameSiteLaxMode
	}
	store.Options = opts

	logger.Info("session verifier initialized",
		zap.String("cookie", sessionName),
		zap.Bool("secure", secure),
		zap.String("domain", domain),
		zap.Bool("bearer_tokens", jwtSecret != ""))

	return &SessionManager{
		store:     store,
		name:      sessionName,
		jwtSecret: []byte(jwtSecret),
		log:       logger,
	}, nil
}

// Authenticate resolves the request's identity. A bearer token, when
// present, takes precedence over the session cookie; an invalid token is an
// error even if a valid cookie is also present.
func (sm *SessionManager) Authenticate(r *http.Request) (*SessionUser, error) {
	if raw := bearerToken(r); raw != "" {
		return sm.verifyToken(raw)
	}
	return sm.fromSession(r)
}

// LoadSessionUser injects the user into context if the request authenticates.
func (sm *SessionManager) LoadSessionUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, err := sm.Authenticate(r); err == nil {
			r = WithUser(r, u)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSignedIn rejects requests without a user in context (set by
// LoadSessionUser) with 401.
func (sm *SessionManager) RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (sm *SessionManager) fromSession(r *http.Request) (*SessionUser, error) {
	sess, err := sm.store.Get(r, sm.name)
	if err != nil {
		// Cookies signed with a rotated key fail to decode; treat as signed out.
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			sm.log.Debug("stale session cookie", zap.Error(err))
		} else {
			sm.log.Warn("session decode failed", zap.Error(err))
		}
		return nil, ErrUnauthenticated
	}

	if isAuth, _ := sess.Values[isAuthKey].(bool); !isAuth {
		return nil, ErrUnauthenticated
	}
	id := getString(sess, userIDKey)
	if id == "" {
		return nil, ErrUnauthenticated
	}
	return &SessionUser{ID: id, Name: getString(sess, userName), Via: ViaSession}, nil
}

func (sm *SessionManager) verifyToken(raw string) (*SessionUser, error) {
	if len(sm.jwtSecret) == 0 {
		return nil, ErrUnauthenticated
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return sm.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		sm.log.Debug("rejected bearer token", zap.Error(err))
		return nil, ErrUnauthenticated
	}
	if claims.Subject == "" {
		sm.log.Debug("bearer token missing sub claim")
		return nil, ErrUnauthenticated
	}
	return &SessionUser{ID: claims.Subject, Name: claims.Name, Via: ViaToken}, nil
}

// helpers

// bearerToken reads "Authorization: Bearer <t>", falling back to ?token=
// for browser websocket clients, which cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, rest, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
	}
	return r.URL.Query().Get("token")
}

// getString safely extracts a string from a session value.
func getString(s *sessions.Session, key string) string {
	if v, ok := s.Values[key].(string); ok {
		return v
	}
	return ""
}

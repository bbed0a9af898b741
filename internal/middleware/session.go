package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/rahul4469/meter-reader/context"
	"github.com/rahul4469/meter-reader/internal/logging"
	"github.com/rahul4469/meter-reader/internal/models"
)

const sessionIDKey = "sid"

type SessionMiddleware struct {
	store      *models.SessionStore
	cookies    sessions.Store
	cookieName string
	logger     *slog.Logger
}

func NewSessionMiddleware(store *models.SessionStore, cookies sessions.Store, cookieName string, logger *slog.Logger) *SessionMiddleware {
	return &SessionMiddleware{
		store:      store,
		cookies:    cookies,
		cookieName: cookieName,
		logger:     logger,
	}
}

// NewCookieStore returns a signed cookie store that only ever carries the
// session ID; settings and results stay in server memory.
func NewCookieStore(secret []byte, maxAgeSeconds int, secure bool) *sessions.CookieStore {
	cs := sessions.NewCookieStore(secret)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAgeSeconds,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return cs
}

// SetSession loads the caller's session, creating one when the cookie is
// missing, invalid or points at an expired session. It runs on all routes.
func (m *SessionMiddleware) SetSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A decode error still returns a usable new cookie session.
		cookie, err := m.cookies.Get(r, m.cookieName)
		if err != nil {
			m.logger.DebugContext(r.Context(), "discarding session cookie", logging.Err(err))
		}

		var session *models.Session
		if id, ok := cookie.Values[sessionIDKey].(string); ok {
			session, err = m.store.Get(id)
			if err != nil {
				m.logger.DebugContext(r.Context(), "session lookup failed", logging.Err(err))
			}
		}

		if session == nil {
			session = m.store.Create()
			cookie.Values[sessionIDKey] = session.ID
			if err := cookie.Save(r, w); err != nil {
				m.logger.ErrorContext(r.Context(), "failed to save session cookie", logging.Err(err))
				http.Error(w, "Failed to start session", http.StatusInternalServerError)
				return
			}
		}

		ctx := context.ContextSetSession(r.Context(), session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentSession returns the session loaded by SetSession, or nil.
func CurrentSession(r *http.Request) *models.Session {
	return context.ContextGetSession(r.Context())
}

// MustCurrentSession is like CurrentSession but panics if no session is found.
// Only use this in handlers mounted behind SetSession.
func MustCurrentSession(r *http.Request) *models.Session {
	session := context.ContextGetSession(r.Context())
	if session == nil {
		panic("MustCurrentSession called without SetSession middleware")
	}
	return session
}

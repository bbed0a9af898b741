package context

import (
	"context"

	"github.com/rahul4469/meter-reader/internal/models"
)

type contextkey string

const (
	sessionKey contextkey = "session"
)

// ContextSetSession binds the caller's session to ctx.
func ContextSetSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// ContextGetSession retrieves the session from request context.
// Returns nil if the session middleware did not run.
func ContextGetSession(ctx context.Context) *models.Session {
	val := ctx.Value(sessionKey)
	session, ok := val.(*models.Session)
	if !ok {
		return nil
	}
	return session
}

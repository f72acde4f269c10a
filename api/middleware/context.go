package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dispatchly/dispatchly-backend/pkg/enums"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
)

type actorKey struct{}

// actor is the verified caller Auth stores on the request context.
type actor struct {
	userID uuid.UUID
	role   enums.UserRole
}

// WithActor seeds the caller identity, as Auth does after verifying a token.
func WithActor(ctx context.Context, userID uuid.UUID, role enums.UserRole) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{userID: userID, role: role})
}

// ActorFromContext returns the caller; ok is false unless both a user id and a known role are present.
func ActorFromContext(ctx context.Context) (uuid.UUID, enums.UserRole, bool) {
	a, found := ctx.Value(actorKey{}).(actor)
	if !found || a.userID == uuid.Nil || !a.role.IsValid() {
		return uuid.Nil, "", false
	}
	return a.userID, a.role, true
}

// Caller is ActorFromContext for handlers: a missing actor is an unauthorized error.
func Caller(r *http.Request) (uuid.UUID, enums.UserRole, error) {
	userID, role, ok := ActorFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return userID, role, nil
}

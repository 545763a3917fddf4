package auth

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
)

type ctxKey string

const (
	userKey    ctxKey = "user"
	sessionKey ctxKey = "session"
)

// Session is the authenticated request session.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
}

func WithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// CurrentUser returns the user placed in ctx by the auth middleware.
func CurrentUser(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok && u.ID != ""
}

// CurrentSession returns the session placed in ctx by the auth middleware.
func CurrentSession(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok && s.AccessToken != ""
}

// RoleLookup resolves a user's role, returning common.ErrorNotFound when the
// user has none.
type RoleLookup interface {
	GetRole(ctx context.Context, userID string) (string, error)
}

// CurrentUserRole returns the role of userID, or "" when none is assigned.
func CurrentUserRole(ctx context.Context, roles RoleLookup, userID string) (string, error) {
	role, err := roles.GetRole(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", nil
		}
		return "", err
	}
	return role, nil
}

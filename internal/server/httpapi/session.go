package httpapi

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/server/auth"
)

type sessionDTO struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	// ExpiresIn is whole seconds left, for clients that schedule a refresh.
	ExpiresIn int64 `json:"expiresIn"`
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	sess, ok := auth.CurrentSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	left := time.Until(sess.ExpiresAt)
	if left < 0 {
		left = 0
	}
	writeJSON(w, http.StatusOK, sessionDTO{
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: sess.ExpiresAt,
		ExpiresIn: int64(left / time.Second),
	})
}

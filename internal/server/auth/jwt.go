package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims plus the user identity.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
}

func GenerateToken(user models.User, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID: user.ID,
		Email:  user.Email,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken validates tokenString and returns the user it was issued for.
// Expired tokens yield common.ErrTokenExpired, anything else that fails
// validation yields an error wrapping common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (models.User, error) {
	user, _, err := ParseSession(tokenString, secretKey)
	return user, err
}

// ParseSession is ParseToken that also returns the session the token opens.
func ParseSession(tokenString string, secretKey []byte) (models.User, Session, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.User{}, Session{}, common.ErrTokenExpired
		}
		return models.User{}, Session{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return models.User{}, Session{}, common.ErrInvalidToken
	}

	session := Session{AccessToken: tokenString}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return models.User{ID: claims.UserID, Email: claims.Email}, session, nil
}

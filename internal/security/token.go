package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opsboard/opsboard/internal/rbac"
)

// twoFactorPendingExpiry bounds how long a pending-2FA token stays valid.
const twoFactorPendingExpiry = 5 * time.Minute

// SessionClaims are the signed contents of a session token. A token with
// TwoFactorPending set authenticates nothing except the 2FA verify step.
type SessionClaims struct {
	UserID           uint64        `json:"uid"`
	Email            string        `json:"email"`
	Role             rbac.UserRole `json:"role"`
	TwoFactorPending bool          `json:"tfa_pending,omitempty"`
	jwt.RegisteredClaims
}

// SignSessionToken issues a full session token for an authenticated user.
func SignSessionToken(secret string, userID uint64, email string, role rbac.UserRole, expiry time.Duration) (string, error) {
	return signToken(secret, SessionClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(expiry)),
		},
	})
}

// SignTwoFactorPendingToken issues a short-lived token for a user who has
// passed the password check but still owes a second factor.
func SignTwoFactorPendingToken(secret string, userID uint64, email string, role rbac.UserRole) (string, error) {
	return signToken(secret, SessionClaims{
		UserID:           userID,
		Email:            email,
		Role:             role,
		TwoFactorPending: true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(twoFactorPendingExpiry)),
		},
	})
}

func signToken(secret string, claims SessionClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("sign session token: %w", errSign)
	}
	return signed, nil
}

// ParseSessionToken validates a session token and returns its claims.
func ParseSessionToken(secret, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, errParse := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if errParse != nil {
		return nil, fmt.Errorf("parse session token: %w", errParse)
	}
	if !token.Valid {
		return nil, fmt.Errorf("parse session token: invalid token")
	}
	return claims, nil
}

package auth

import (
	"fmt"
	"time"

	"voice-room/errors"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "voice-room"

// Claims binds a token to the user a coordinator acts for.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Issuer signs and checks session tokens with a shared HS256 secret.
type Issuer struct {
	secret   []byte
	duration time.Duration
	now      func() time.Time
}

func NewIssuer(secret string, duration time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), duration: duration, now: time.Now}
}

func (i *Issuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.ErrInvalidUserID
	}
	now := i.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse validates signature, expiry and issuer, then returns the user id.
func (i *Issuer) Parse(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidUserID, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidUserID, jwt.ErrTokenInvalidClaims)
	}
	return claims.UserID, nil
}

// Package auth mints and verifies the JWTs that carry a caller's profile.
// The signaling server discloses partner profiles from these claims, so the
// client never sends profile fields over the socket itself.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"example.com/voicematch/signaling"
)

// TokenTTL is how long issued tokens stay valid.
const TokenTTL = 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the profile payload embedded in every token.
type Claims struct {
	UserID   string           `json:"userId"`
	Nickname string           `json:"nickname"`
	Gender   signaling.Gender `json:"gender"`
	Age      *int             `json:"age,omitempty"`
	Region   *string          `json:"region,omitempty"`
	jwt.RegisteredClaims
}

// Partner returns the full (undisclosed) partner view of these claims.
func (c *Claims) Partner() signaling.Partner {
	return signaling.Partner{
		Nickname: c.Nickname,
		Gender:   c.Gender,
		Age:      c.Age,
		Region:   c.Region,
	}
}

// NewToken signs a profile-bearing token with the shared HMAC secret.
func NewToken(secret, userID, nickname string, gender signaling.Gender, age *int, region *string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Nickname: nickname,
		Gender:   gender,
		Age:      age,
		Region:   region,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a token and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", ErrInvalidToken)
	}
	return claims, nil
}

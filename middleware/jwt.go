package middleware

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AnyTeam in a token's team claim grants write access to every arena.
const AnyTeam = "*"

// Claims is the JWT payload. Team names the arena whose shared memory the
// bearer may write.
type Claims struct {
	Team string `json:"team"`
	jwt.RegisteredClaims
}

// GenerateToken signs a JWT for team with the given secret and TTL.
func GenerateToken(team, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Team: team,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a JWT string and returns the claims.
func ParseToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Team == "" {
		return nil, errors.New("token without team")
	}
	return claims, nil
}

// Allows reports whether the claims may write arenaID.
func (c *Claims) Allows(arenaID string) bool {
	return c.Team == AnyTeam || c.Team == arenaID
}

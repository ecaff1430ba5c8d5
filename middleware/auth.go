package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/norne/arenanav/cache"
)

const ClaimsKey = "claims"

// RevokedKey is the cache key that, when present, rejects the token with the
// given JWT ID.
func RevokedKey(tokenID string) string {
	return "token_revoked:" + tokenID
}

// Auth validates the Bearer JWT token. When c is not nil, revoked token IDs
// are rejected. If arenaParam is not empty, the token's team must match that
// route parameter.
func Auth(secret string, c cache.Cache, arenaParam string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := ParseToken(strings.TrimPrefix(header, "Bearer "), secret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if c != nil && claims.ID != "" {
			cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
			_, err := c.Get(cacheCtx, RevokedKey(claims.ID))
			cancel()
			if err == nil {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
				return
			}
			if !cache.IsNotFound(err) {
				ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "token check unavailable"})
				return
			}
		}

		if arenaParam != "" && !claims.Allows(ctx.Param(arenaParam)) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token not valid for this arena"})
			return
		}

		ctx.Set(ClaimsKey, claims)
		ctx.Next()
	}
}

// GetClaims retrieves the authenticated claims from the Gin context.
func GetClaims(c *gin.Context) *Claims {
	if v, exists := c.Get(ClaimsKey); exists {
		return v.(*Claims)
	}
	return nil
}

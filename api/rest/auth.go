package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/norne/arenanav/cache"
	"github.com/norne/arenanav/config"
	mw "github.com/norne/arenanav/middleware"
)

// TokenHandler issues and revokes team tokens.
type TokenHandler struct {
	cache cache.Cache
	sec   config.SecurityConfig
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(c cache.Cache, sec config.SecurityConfig) *TokenHandler {
	return &TokenHandler{cache: c, sec: sec}
}

type issueRequest struct {
	Team string `json:"team" binding:"required,max=64"`
}

// Issue signs a token for a team. Routes should be behind the admin IP list.
// POST /api/tokens
func (h *TokenHandler) Issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := mw.GenerateToken(req.Team, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "team": req.Team})
}

// Refresh revokes the presented token and returns a new one for the same team.
// POST /api/tokens/refresh
func (h *TokenHandler) Refresh(c *gin.Context) {
	claims := mw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.revoke(c.Request.Context(), claims); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "revoke failed"})
		return
	}
	token, err := mw.GenerateToken(claims.Team, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Revoke invalidates the presented token.
// POST /api/tokens/revoke
func (h *TokenHandler) Revoke(c *gin.Context) {
	claims := mw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.revoke(c.Request.Context(), claims); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "revoke failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "revoked"})
}

// revoke marks the token ID as revoked until the token would expire anyway.
func (h *TokenHandler) revoke(ctx context.Context, claims *mw.Claims) error {
	ttl := h.sec.JWTTTLH
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return h.cache.Set(ctx, mw.RevokedKey(claims.ID), claims.Team, ttl)
}

package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/norne/arenanav/cache"
	"github.com/norne/arenanav/config"
	mw "github.com/norne/arenanav/middleware"
)

// Handlers groups everything Register mounts.
type Handlers struct {
	Arenas *ArenaHandler
	Tokens *TokenHandler
	Health *HealthHandler
}

// Register mounts the REST API under /api. Writes to an arena need a token for
// that arena's team; issuing tokens and destroying arenas are limited to the
// admin address list.
func Register(r gin.IRouter, h Handlers, sec config.SecurityConfig, c cache.Cache) {
	api := r.Group("/api")
	admin := mw.IPWhitelist(sec.AdminIPs)
	writer := mw.Auth(sec.JWTSecret, c, "id")
	bearer := mw.Auth(sec.JWTSecret, c, "")

	api.GET("/health", h.Health.Health)

	tokens := api.Group("/tokens")
	tokens.POST("", admin, h.Tokens.Issue)
	tokens.POST("/refresh", bearer, h.Tokens.Refresh)
	tokens.POST("/revoke", bearer, h.Tokens.Revoke)

	arenas := api.Group("/arenas")
	arenas.GET("", h.Arenas.List)
	arenas.GET("/:id/map", h.Arenas.Map)
	arenas.POST("/:id/route", h.Arenas.Route)
	arenas.GET("/:id/routes", h.Arenas.RecentRoutes)
	arenas.GET("/:id/annotations/:key", h.Arenas.GetAnnotation)
	arenas.GET("/:id/snapshots", h.Arenas.Snapshots)
	arenas.POST("/:id/observe", writer, h.Arenas.Observe)
	arenas.PUT("/:id/annotations/:key", writer, h.Arenas.PutAnnotation)
	arenas.POST("/:id/snapshots", writer, h.Arenas.SaveSnapshot)
	arenas.DELETE("/:id", admin, writer, h.Arenas.Destroy)
}

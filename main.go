package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/norne/arenanav/api/rest"
	apiws "github.com/norne/arenanav/api/ws"
	"github.com/norne/arenanav/cache"
	"github.com/norne/arenanav/config"
	dbadapter "github.com/norne/arenanav/db"
	"github.com/norne/arenanav/game/ai"
	"github.com/norne/arenanav/game/world"
	mw "github.com/norne/arenanav/middleware"
	"github.com/norne/arenanav/model"
	"github.com/norne/arenanav/planlog"
	"github.com/norne/arenanav/resource"
	"github.com/norne/arenanav/scheduler"
	"github.com/norne/arenanav/snapshot"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Warn("security.jwt_secret is not set; tokens are signed with an empty key")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Arena layouts ----
	res := resource.NewLoader(cfg.Arena.LayoutDir)
	if err := res.Load(); err != nil {
		log.Fatalf("layouts: %v", err)
	}
	logger.Info("Arena layouts loaded", zap.Strings("layouts", res.IDs()))

	// ---- Arenas / planner ----
	arenas := world.NewRegistry(res, cfg.Arena.DefaultWidth, cfg.Arena.DefaultHeight,
		arenaOptions(cfg.Arena, c, logger), logger)
	plannerOpts, err := plannerOptions(cfg.Planner, logger)
	if err != nil {
		log.Fatalf("planner: %v", err)
	}

	// ---- Route log / snapshots ----
	routes := planlog.New(db, c, cfg.Planner.RecordBuffer, logger)
	persister := snapshot.New(db, c, arenas, cfg.Snapshot.Keep, logger)
	arenas.SetRestore(persister.Restore)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	if cfg.Snapshot.Interval > 0 {
		sched.AddTicker("snapshot", cfg.Snapshot.Interval, func(ctx context.Context) {
			n, err := persister.PersistAll(ctx)
			if err != nil {
				logger.Warn("snapshot pass failed", zap.Error(err))
			}
			if n > 0 {
				logger.Debug("arenas snapshotted", zap.Int("count", n))
			}
		})
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	apirest.Register(r, apirest.Handlers{
		Arenas: apirest.NewArenaHandler(arenas, res, plannerOpts, routes, persister, pubsub, logger),
		Tokens: apirest.NewTokenHandler(c, cfg.Security),
		Health: apirest.NewHealthHandler(arenas, sched),
	}, cfg.Security, c)

	streamH := apiws.NewStreamHandler(arenas, res, pubsub, plannerOpts, cfg.Security, logger)
	r.GET("/ws/arenas/:id", streamH.ServeWS)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	routes.Stop(shutdownCtx)
	if n, err := persister.PersistAll(shutdownCtx); err != nil {
		logger.Warn("final snapshot failed", zap.Error(err))
	} else {
		logger.Info("final snapshot", zap.Int("arenas", n))
	}
}

// arenaOptions builds the WorldModel options every new arena gets.
func arenaOptions(cfg config.ArenaConfig, c cache.Cache, logger *zap.Logger) world.OptionsFunc {
	return func(id string) []world.Option {
		opts := []world.Option{world.WithInflation(cfg.Inflation)}
		if cfg.SharedAnnotations {
			opts = append(opts, world.WithAnnotations(world.NewCacheAnnotations(c, id, logger)))
		}
		return opts
	}
}

func plannerOptions(cfg config.PlannerConfig, logger *zap.Logger) ([]ai.Option, error) {
	h, err := ai.HeuristicByName(cfg.Heuristic)
	if err != nil {
		return nil, err
	}
	return []ai.Option{
		ai.WithHeuristic(h),
		ai.WithRecomputeEvery(cfg.RecomputeEvery),
		ai.WithArrivalTolerance(cfg.ArrivalTolerance),
		ai.WithLogger(logger.Named("planner")),
	}, nil
}

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
	apirest "github.com/kasuganosora/questline/api/rest"
	"github.com/kasuganosora/questline/api/sse"
	apiws "github.com/kasuganosora/questline/api/ws"
	"github.com/kasuganosora/questline/audit"
	"github.com/kasuganosora/questline/cache"
	"github.com/kasuganosora/questline/catalog"
	"github.com/kasuganosora/questline/config"
	dbadapter "github.com/kasuganosora/questline/db"
	"github.com/kasuganosora/questline/identity"
	"github.com/kasuganosora/questline/messaging"
	"github.com/kasuganosora/questline/metrics"
	mw "github.com/kasuganosora/questline/middleware"
	"github.com/kasuganosora/questline/model"
	"github.com/kasuganosora/questline/notify"
	"github.com/kasuganosora/questline/quest"
	"github.com/kasuganosora/questline/scheduler"
	"github.com/kasuganosora/questline/sms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints and monitors are disabled")
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

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

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

	// ---- Quest engine ----
	cat := catalog.New(db, c, cfg.Game.CatalogCacheTTL, logger)
	if cfg.Game.CatalogSeedDir != "" {
		if _, err := cat.Seed(context.Background(), cfg.Game.CatalogSeedDir); err != nil {
			logger.Fatal("catalog seed failed", zap.Error(err))
		}
	}
	dir := identity.NewDirectory(db)
	eng := quest.NewEngine(quest.Deps{
		Store:      quest.NewGormStore(db),
		Catalog:    cat,
		Directory:  dir,
		Publisher:  notify.NewPublisher(pubsub, logger),
		Auditor:    auditSvc,
		Logger:     logger,
		CodeLength: cfg.Game.ActivationCodeLength,
	})

	// ---- Messaging ----
	transport, err := messaging.NewTransport(cfg.Messaging, logger)
	if err != nil {
		log.Fatalf("messaging: %v", err)
	}
	broadcaster := messaging.NewBroadcaster(dir, transport, cfg.Messaging.SendDelay, logger)
	corr := sms.NewCorrelator(dir, eng, c, cfg.Messaging, auditSvc, logger)

	// ---- Monitors ----
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := notify.NewRegistry(logger)
	defer registry.CloseAll()
	hub := notify.NewHub(pubsub, registry, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	sched.AddTicker("monitor_sweep", cfg.Notify.PingInterval, func(context.Context) error {
		if n := registry.Sweep(); n > 0 {
			logger.Info("pruned dead monitors", zap.Int("count", n))
		}
		metrics.Monitors(registry.Len())
		return nil
	})
	if cfg.Audit.Retention > 0 {
		err := sched.AddCron("audit_prune", cfg.Audit.PruneSchedule, func(ctx context.Context) error {
			_, err := auditSvc.Prune(ctx, time.Now().Add(-cfg.Audit.Retention))
			return err
		})
		if err != nil {
			log.Fatalf("scheduler: %v", err)
		}
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger), metrics.Middleware())
	r.Use(mw.CORS(cfg.Security.AllowedOrigins))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(dir, c, cfg.Security)
	playerH := apirest.NewPlayerHandler(eng, dir, logger)
	adminH := apirest.NewAdminHandler(eng, cat, dir, broadcaster, auditSvc, sched, logger)
	hooksH := apirest.NewHooksHandler(corr, logger)

	attempt := mw.AttemptLimit(rate.Limit(cfg.Security.AttemptRPS), cfg.Security.AttemptBurst)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		questsG := api.Group("/quests")
		questsG.Use(mw.Auth(cfg.Security, c))
		questsG.GET("", playerH.ListQuests)
		questsG.GET("/:name", playerH.GetQuest)
		questsG.POST("/:name/puzzles/:puzzle/activate", attempt, playerH.Activate)
		questsG.POST("/:name/puzzles/:puzzle/solve", attempt, playerH.Solve)
		questsG.POST("/:name/puzzles/:puzzle/hint", playerH.Hint)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/puzzles", adminH.ListPuzzles)
		adminG.GET("/puzzles/:name", adminH.GetPuzzle)
		adminG.PUT("/puzzles/:name", adminH.PutPuzzle)
		adminG.DELETE("/puzzles/:name", adminH.DeletePuzzle)
		adminG.GET("/quests", adminH.ListQuests)
		adminG.POST("/quests", adminH.CreateQuest)
		adminG.GET("/quests/:name", adminH.GetQuest)
		adminG.PUT("/quests/:name", adminH.UpdateQuest)
		adminG.DELETE("/quests/:name", adminH.DeleteQuest)
		adminG.POST("/quests/:name/start", adminH.StartQuest)
		adminG.POST("/quests/:name/reset", adminH.ResetQuest)
		adminG.PUT("/quests/:name/puzzles/:puzzle/expected-response", adminH.SetExpectedResponse)
		adminG.POST("/quests/:name/broadcast", adminH.Broadcast)
		adminG.GET("/quests/:name/attempts", adminH.Attempts)
		adminG.POST("/users", adminH.CreateUser)
		adminG.POST("/teams", adminH.CreateTeam)
		adminG.POST("/teams/:name/members", adminH.AddMember)
		adminG.POST("/tokens", authH.Issue)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)

		hooksG := api.Group("/hooks")
		hooksG.Use(mw.IPWhitelist(cfg.Security.WebhookIPs))
		hooksG.POST("/sms", hooksH.SMS)
		hooksG.POST("/voice", hooksH.Voice)
	}

	// ---- WebSocket ----
	wsH := apiws.NewHandler(registry, eng, cfg.Server.AdminKey, cfg.Security, cfg.Notify.PingInterval, logger)
	r.GET("/ws/monitor", wsH.ServeMonitor)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, cfg.Server.AdminKey, dir, logger)
	r.GET("/sse/quests", sseH.ServeQuests)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}

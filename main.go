package main

import (
	"context"
	"log"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/xps/palmalytics/internal/config"
	"github.com/xps/palmalytics/internal/db"
	"github.com/xps/palmalytics/internal/geodata"
	"github.com/xps/palmalytics/internal/http/handlers"
	appmw "github.com/xps/palmalytics/internal/http/middleware"
	"github.com/xps/palmalytics/internal/tracker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	gdb, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}

	store := db.NewStore(gdb, db.Options{
		SessionWindow: cfg.SessionWindow,
		LockTimeout:   cfg.LockTimeout,
		QueryTimeout:  cfg.QueryTimeout,
		Logger:        logger,
	})

	if err := store.Migrate(); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	handlers.InitPrometheusMetrics()
	tracker.InitPrometheusMetrics()

	trk := tracker.New(store, logger, tracker.Options{
		AsyncWrites:         cfg.AsyncWrites,
		MaxErrorsBeforeFail: cfg.MaxErrorsBeforeFail,
	})

	if cfg.AutoGeocoding {
		updater := geodata.NewUpdater(store, logger, cfg.GeoDataURL)
		go updater.Run(context.Background())
	}

	r := router.New()

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})

	r.POST("/api/event", handlers.TrackEvent(store, trk, cfg, logger))

	admin := appmw.AdminAuth(cfg)

	r.GET("/api/top-data", admin(handlers.TopData(store, logger)))
	r.GET("/api/chart", admin(handlers.Chart(store, logger)))
	r.GET("/api/browsers", admin(handlers.Browsers(store, logger)))
	r.GET("/api/operating-systems", admin(handlers.OperatingSystems(store, logger)))
	r.GET("/api/referrers", admin(handlers.Referrers(store, logger)))
	r.GET("/api/utm-parameters", admin(handlers.UtmParameters(store, logger)))
	r.GET("/api/countries", admin(handlers.Countries(store, logger)))
	r.GET("/api/top-pages", admin(handlers.TopPages(store, logger)))
	r.GET("/api/entry-pages", admin(handlers.EntryPages(store, logger)))
	r.GET("/api/exit-pages", admin(handlers.ExitPages(store, logger)))
	r.GET("/api/performance-stats", admin(handlers.PerformanceStats(trk)))
	r.POST("/api/tracking/enable", admin(handlers.EnableTracking(trk)))

	r.GET("/metrics", admin(handlers.PrometheusMetrics()))

	handler := handlers.RequestLogger(logger)(r.Handler)

	logger.Info("palmalytics listening", zap.String("addr", cfg.ListenAddr))
	if err := fasthttp.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

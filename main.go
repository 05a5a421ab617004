package main

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/plexoapp/plexo/api"
	"github.com/plexoapp/plexo/changelog"
	"github.com/plexoapp/plexo/domain"
	"github.com/plexoapp/plexo/loader"
	"github.com/plexoapp/plexo/storage"
	"github.com/plexoapp/plexo/stream"
)

// streamsAdapter narrows *stream.Listener to the api.Streams surface.
type streamsAdapter struct {
	listener *stream.Listener
}

func (a streamsAdapter) Listen(ctx context.Context, resource domain.ResourceType) (api.Subscription, error) {
	return a.listener.Listen(ctx, resource)
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.DatabaseURL, cfg.MaxPoolConns, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}

	recorder := changelog.NewRecorder(store, changelog.Config{
		BufferSize:  cfg.RecorderBuffer,
		WorkerCount: cfg.RecorderWorkers,
	}, logger)
	defer recorder.Close()

	connect := func(ctx context.Context) (stream.Conn, error) {
		conn, err := pgx.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	listener := stream.NewListener(connect, stream.Config{
		MaxSubscriptions: cfg.MaxSubscriptions,
	}, logger)

	// System listener: log task changes so a fresh deployment shows the
	// notification path working end to end.
	go func() {
		sub, err := listener.Listen(ctx, domain.ResourceTasks)
		if err != nil {
			logger.WithError(err).Warn("system listener unavailable")
			return
		}
		defer sub.Close()
		for event := range sub.Events() {
			logger.Debugf("change: %s", event.Payload())
		}
		if err := sub.Err(); err != nil {
			logger.WithError(err).Warn("system listener terminated")
		}
	}()

	loaderCfg := loader.Config{
		MaxBatch: cfg.LoaderMaxBatch,
		Window:   cfg.LoaderWindow,
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "X-Member-ID"},
	}))
	e.Use(echoprometheus.NewMiddleware("plexo"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, store, recorder, streamsAdapter{listener}, loaderCfg, logger)

	e.Logger.Fatal(e.Start(cfg.ListenAddr))
}

package main // gateway entry point

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/auth"
	"github.com/piewallah/pw-gateway/internal/cache"
	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/database"
	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/handler"
	"github.com/piewallah/pw-gateway/internal/headers"
	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/netstatus"
	"github.com/piewallah/pw-gateway/internal/proxy"
	"github.com/piewallah/pw-gateway/internal/queue"
	"github.com/piewallah/pw-gateway/internal/repository"
	"github.com/piewallah/pw-gateway/internal/router"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn("redis unavailable, shared cache and rate limit disabled")
	} else {
		defer rdb.Close()
	}

	mon := netstatus.NewMonitor(cfg.UpstreamBaseURL, 5*time.Second, log)
	go mon.Run(ctx, cfg.ProbeInterval)

	// the platform expects the organization id in client-id
	id := headers.Identity{
		ClientID:      cfg.OrganizationID,
		ClientType:    cfg.ClientType,
		ClientVersion: cfg.ClientVersion,
		APIVersion:    cfg.APIVersion,
		UserAgent:     cfg.UserAgent,
	}
	synth := headers.New(id, nil)
	upstream, err := fetch.New(fetch.Options{
		BaseURL:      cfg.UpstreamBaseURL,
		Timeout:      cfg.ProxyTimeout,
		Headers:      synth,
		Connectivity: mon,
		Log:          log.WithField("component", "upstream"),
	})
	if err != nil {
		log.WithError(err).Fatal("upstream client")
	}

	local := config.LoadLocalCacheConfig()
	breakers := proxy.NewBreakers(config.LoadBreakerConfig(), log)
	fwd := proxy.NewForwarder(proxy.Options{
		Timeout:  cfg.ProxyTimeout,
		Headers:  synth,
		Cache:    cache.NewFIFO(local.Capacity, local.TTL),
		Breakers: breakers,
		Log:      log.WithField("component", "proxy"),
	})
	eps := proxy.Endpoints(cfg)

	db := openAuditDB(ctx, log)
	if db != nil {
		defer db.Close()
	}
	events, sink, closeEvents := sessionEvents(ctx, db, log)
	defer closeEvents()

	families := make([]string, 0, len(eps))
	for _, ep := range eps {
		families = append(families, ep.Name)
	}
	deps := router.Deps{
		Forwarder: fwd,
		Endpoints: eps,
		Auth:      handler.NewAuthHandler(cfg, upstream, events, log),
		Schedule:  &handler.ScheduleHandler{Upstream: upstream, Fallback: cfg.ThumbnailFallback, Log: log},
		Health:    &handler.HealthHandler{Net: mon, Breakers: breakers, Families: families},
		Redis:     rdb,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
		Log:       log,
	}
	if repo, ok := sink.(*repository.SessionEventRepo); ok {
		deps.Sessions = &handler.SessionHandler{Events: repo}
	}

	e := echo.New()
	e.HideBanner = true
	router.Use(e, log)
	router.RegisterRoutes(e, deps)

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
}

// openAuditDB connects to MySQL when configured and creates the audit
// table. Failures disable the audit store instead of stopping the gateway.
func openAuditDB(ctx context.Context, log logrus.FieldLogger) *sql.DB {
	dbCfg := config.LoadDBConfig()
	if !dbCfg.Enabled() {
		return nil
	}
	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		log.WithError(err).Warn("audit database unavailable")
		return nil
	}
	if err := repository.NewSessionEventRepo(db).EnsureSchema(ctx); err != nil {
		log.WithError(err).Warn("audit schema")
		_ = db.Close()
		return nil
	}
	return db
}

// sessionEvents picks where session events end up: the audit table when a
// database is open, otherwise a log file. With RabbitMQ enabled events go
// through the queue and a consumer drains it into the sink.
func sessionEvents(ctx context.Context, db *sql.DB, log logrus.FieldLogger) (auth.EventPublisher, queue.Sink, func()) {
	qc := config.LoadQueueConfig()
	var sink queue.Sink = queue.NewLogFileSink(qc.LogDir)
	if db != nil {
		sink = repository.NewSessionEventRepo(db)
	}
	if !qc.Enabled {
		return queue.SinkPublisher{Sink: sink}, sink, func() {}
	}

	consumer := queue.NewConsumer(qc, sink, log.WithField("component", "session-consumer"))
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("session consumer stopped")
		}
	}()
	pub := queue.NewPublisher(qc, log.WithField("component", "session-publisher"))
	return pub, sink, func() { _ = pub.Close() }
}

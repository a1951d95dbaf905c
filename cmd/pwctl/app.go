package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/auth"
	"github.com/piewallah/pw-gateway/internal/cache"
	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/headers"
	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/netstatus"
	"github.com/piewallah/pw-gateway/internal/session"
)

// app is everything one pwctl invocation works with.
type app struct {
	cfg    config.ClientConfig
	log    *logrus.Logger
	store  *session.Store
	net    *netstatus.Monitor
	client *fetch.Client
	auth   *auth.Manager
	nav    *navigator

	closers []func()
}

func newApp(ctx context.Context, cfg config.ClientConfig, id config.Config, errOut io.Writer, verbose bool) (*app, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("gateway URL is empty, set PW_GATEWAY_URL or --gateway")
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logging.New(level, false)
	log.SetOutput(errOut)

	a := &app{cfg: cfg, log: log, nav: &navigator{out: errOut}}

	var scoped session.Backend = session.NewMemoryBackend()
	if cfg.SessionRedisKey != "" {
		if rdb := config.NewRedisClient(config.LoadRedisConfig()); rdb != nil {
			scoped = session.NewRedisBackend(rdb, cfg.SessionRedisKey, 0)
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		} else {
			log.Warn("redis unavailable, session-scoped store kept in memory")
		}
	}
	a.store = session.NewStore(session.NewFileBackend(cfg.CredentialsFile), scoped, log)
	a.store.Init(ctx)

	a.net = netstatus.NewMonitor(cfg.GatewayURL+"/healthz", 3*time.Second, log)

	synth := headers.New(headers.Identity{
		ClientID:      id.OrganizationID,
		ClientType:    id.ClientType,
		ClientVersion: id.ClientVersion,
		APIVersion:    id.APIVersion,
		UserAgent:     "pwctl",
	}, nil)
	client, err := fetch.New(fetch.Options{
		BaseURL:      cfg.GatewayURL,
		Timeout:      cfg.RequestTimeout,
		Headers:      synth,
		Connectivity: a.net,
		Store:        a.store,
		Navigator:    a.nav,
		Cache:        cache.NewFIFO(100, 5*time.Minute),
		Retry:        fetch.RetryPolicy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.BaseDelay, Factor: cfg.BackoffFactor},
		Log:          log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client = client
	a.auth = auth.New(auth.Options{
		Store:     a.store,
		Caller:    a.client,
		Navigator: a.nav,
		Buffer:    cfg.ExpiryBuffer,
		Log:       log,
	})
	a.client.SetAuthenticator(a.auth)
	return a, nil
}

// Close releases connections opened by newApp.
func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
}

// navigator tells the user to log in again. It speaks once per process.
type navigator struct {
	out  io.Writer
	once sync.Once
	last string
}

func (n *navigator) RedirectToLogin(reason string) {
	n.once.Do(func() {
		n.last = reason
		fmt.Fprintf(n.out, "session ended (%s), run 'pwctl login' to sign in again\n", reason)
	})
}

package main

import (
	"context"
	"driftbin/cfg"
	"driftbin/svc/api"
	"driftbin/svc/db"
	"driftbin/svc/events"
	"driftbin/svc/lim"
	"driftbin/svc/svc"
	"driftbin/svc/util"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	eventQueueSize  = 1024
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(probe())
	}

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().
		Str("environment", c.Environment).
		Strs("allowed_origins", c.AllowedOrigins).
		Msg("starting driftbin")

	rdb, err := db.NewRedis(c.RedisURL, c)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()
	util.Info().Msg("redis connected")

	var pub events.Publisher = events.Noop{}
	if url := c.EventsURL.Value(); url != "" {
		mq, err := events.NewRabbitMQ(url, c.EventsExchange)
		if err != nil {
			util.Warn().Err(err).Msg("event broker unavailable, events disabled")
		} else {
			pub = events.NewAsync(mq, eventQueueSize)
			util.Info().Str("exchange", c.EventsExchange).Msg("event publisher connected")
		}
	}
	defer pub.Close()

	pasteSvc := svc.NewPaste(rdb, pub)

	limiter := lim.New(c.RateLimit.RPM, c.RateLimit.Burst, c.RateLimit.ConservativeLimit, c.LimiterCacheSize, rdb, c.TrustedProxies)
	defer limiter.Stop()
	util.Info().
		Int("rpm", c.RateLimit.RPM).
		Int("burst", c.RateLimit.Burst).
		Strs("trusted_proxies", c.TrustedProxies).
		Msg("rate limiter initialized")

	server := api.NewServer(c, pasteSvc, limiter, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server stopped with error")
	}
	util.Info().Msg("shutdown complete")
}

// probe backs the container health check. It asks the running server rather
// than the store so a store outage does not restart the container.
func probe() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort("127.0.0.1", port) + "/health")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"moff.io/wallet-bridge/internal/bridge"
	"moff.io/wallet-bridge/internal/cache"
	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/internal/http"
	"moff.io/wallet-bridge/internal/inbox"
	"moff.io/wallet-bridge/internal/metrics"
	"moff.io/wallet-bridge/internal/starter"
	"moff.io/wallet-bridge/internal/walletconnect"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

func main() {
	log.Infof("Starting wallet bridge")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	cfg := config.Global
	if err := log.SetLevelName(cfg.Log.Level); err != nil {
		log.Fatal(err)
	}
	setupReporting(&cfg.Reporting)
	defer errors.FlushSentry(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transportOpts := []walletconnect.Option{
		walletconnect.WithReadTimeout(cfg.Relay.ReadTimeout),
		walletconnect.WithWriteTimeout(cfg.Relay.WriteTimeout),
		walletconnect.WithDialTimeout(cfg.Relay.DialTimeout),
	}
	bridgeOpts := []bridge.Option{
		bridge.WithWallet(cfg.Wallet.Addresses(), bridge.PeerMeta{
			Name:        cfg.Wallet.Meta.Name,
			Description: cfg.Wallet.Meta.Description,
			URL:         cfg.Wallet.Meta.URL,
			Icons:       cfg.Wallet.Meta.Icons,
		}),
		bridge.WithNetworks(cfg.Wallet.Networks(), cfg.Wallet.DefaultChainID),
		bridge.WithApprovalTimeout(cfg.Bridge.ApprovalTimeout),
		bridge.WithQueueSize(cfg.Bridge.QueueSize),
		bridge.WithRejectWhenDetached(cfg.Bridge.RejectWhenDetached),
		bridge.WithObserver(metrics.New(prometheus.DefaultRegisterer)),
	}

	if cfg.Redis.Enabled() {
		rdb, err := cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal(err)
		}
		defer rdb.Close()
		dedup := cache.NewRedisDeduplicator(rdb, cfg.Relay.DedupTTL)
		if cfg.Relay.ResetDedup {
			if err := dedup.Purge(ctx); err != nil {
				log.Fatal(err)
			}
		}
		transportOpts = append(transportOpts, walletconnect.WithDeduplicator(dedup))
		if cfg.Bridge.RateLimitPerMinute > 0 {
			bridgeOpts = append(bridgeOpts,
				bridge.WithLimiter(cache.NewPeerLimiter(rdb, cfg.Bridge.RateLimitPerMinute)))
		}
	} else {
		log.Warn("redis not configured, relay de-duplication is in memory and rate limiting is off")
		transportOpts = append(transportOpts,
			walletconnect.WithDeduplicator(cache.NewMemoryDeduplicator(cfg.Relay.DedupTTL)))
	}

	transport := walletconnect.NewTransport(transportOpts...)
	defer transport.Close()

	b := bridge.New(transport, bridgeOpts...)
	in := inbox.New(b)
	b.SetDelegate(in)

	starter.Start(ctx,
		b,
		http.NewServer(cfg.HTTP.Address, cfg.HTTP.RequestTimeout, b, in, prometheus.DefaultGatherer),
	)
	<-ctx.Done()
	log.Info("shutting down wallet bridge")
}

func setupReporting(r *config.Reporting) {
	if r.SentryDSN != "" {
		if err := errors.NewSentryReporter(r.SentryDSN, r.Environment, r.Silent); err != nil {
			log.Errorf("init sentry reporter: %v", err)
		}
	}
	if r.LarkWebhook != "" {
		errors.NewLarkReporter(r.LarkTitle, r.Environment, r.LarkWebhook, r.Silent)
	}
}

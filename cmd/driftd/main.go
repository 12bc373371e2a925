// Command driftd runs the drift server: the REST API, the WebSocket
// stream, the in-memory engines with embedded persistence, and the
// retention sweep, all in one process. Redis, NATS, and Postgres attach
// when configured and the process degrades gracefully without them.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/driftapp/drift/internal/ban"
	"github.com/driftapp/drift/internal/block"
	"github.com/driftapp/drift/internal/chat"
	"github.com/driftapp/drift/internal/clock"
	"github.com/driftapp/drift/internal/config"
	"github.com/driftapp/drift/internal/events"
	"github.com/driftapp/drift/internal/httpapi"
	"github.com/driftapp/drift/internal/identity"
	"github.com/driftapp/drift/internal/logger"
	"github.com/driftapp/drift/internal/match"
	"github.com/driftapp/drift/internal/moderation"
	"github.com/driftapp/drift/internal/ratelimit"
	"github.com/driftapp/drift/internal/report"
	"github.com/driftapp/drift/internal/store"
	"github.com/driftapp/drift/internal/sweep"
	"github.com/driftapp/drift/internal/ws"
)

func main() {
	configPath := flag.String("config", "drift.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath, flagPassed("config")))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.Logging.Development); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	logg := logger.L("driftd")

	if cfg.Auth.JWTSecret == "" {
		logg.Fatal("auth.jwt_secret is required (set DRIFT_JWT_SECRET)")
	}
	issuer, err := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL.Std())
	if err != nil {
		logg.Fatal("token issuer", zap.Error(err))
	}

	hub := events.NewHub()
	clk := clock.System{}

	// Redis backs session revocation, bans, and shared blocklists. With
	// no address configured, blocks fall back to process memory and
	// sessions stay purely token-based.
	var (
		rdb      *redis.Client
		sessions *identity.Registry
		bans     *ban.Store
	)
	memBlocks := block.NewMemory()
	var blocklist httpapi.Blocklist = memBlocks
	var checker block.Checker = memBlocks
	if cfg.Storage.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logg.Fatal("redis connection failed",
				zap.String("addr", cfg.Storage.RedisAddr), zap.Error(err))
		}
		sessions = identity.NewRegistryWithClient(rdb, cfg.Auth.SessionTTL.Std())
		bans = ban.NewStore(rdb)
		redisBlocks := block.NewStore(rdb)
		blocklist = redisBlocks
		checker = redisBlocks
	}

	limiter := ratelimit.NewLimiter(clk)
	sendRule := ratelimit.RuleMessage
	if cfg.Chat.MessageLimit > 0 {
		sendRule.Limit = cfg.Chat.MessageLimit
	}
	if cfg.Chat.MessageWindow.Std() > 0 {
		sendRule.Window = cfg.Chat.MessageWindow.Std()
	}

	matches := match.NewEngine(clk, checker, hub)
	chats := chat.NewEngine(chat.Options{
		Clock:           clk,
		Blocks:          checker,
		Matches:         matches,
		Policy:          moderation.NewFilter(),
		Publisher:       hub,
		Limiter:         limiter,
		SendRule:        sendRule,
		CruiseRetention: cfg.Chat.CruiseRetention.Std(),
	})

	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		logg.Fatal("open store", zap.String("dir", cfg.Storage.DataDir), zap.Error(err))
	}
	stats, err := st.Hydrate(chats, matches)
	if err != nil {
		logg.Fatal("hydrate state", zap.Error(err))
	}
	logg.Info("state hydrated",
		zap.Int("threads", stats.Threads),
		zap.Int("messages", stats.Messages),
		zap.Int("cursors", stats.Cursors),
		zap.Int("swipes", stats.Swipes),
		zap.Int("matches", stats.Matches),
		zap.Int("faves", stats.Faves),
		zap.Int("corrupt", stats.Corrupt))
	persister := store.StartPersister(hub, st, chats, 1024)

	// Flagged senders accumulate moderation strikes; each strike applies
	// an escalating ban when Redis is present to hold it.
	if bans != nil {
		banStore := bans
		hub.Subscribe("ban-escalation", 256, func(ev events.Event) {
			if ev.Kind != events.KindMessageFlagged || ev.Actor == "" {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			duration, err := banStore.Escalate(ctx, ev.Actor, "content_filter")
			if err != nil {
				logg.Warn("ban escalation failed",
					zap.String("actor", ev.Actor), zap.Error(err))
				return
			}
			logg.Info("moderation strike",
				zap.String("actor", ev.Actor),
				zap.Duration("ban", duration))
		})
	}

	var natsClient *events.NATSClient
	if cfg.Storage.NATSURL != "" {
		nc := events.DefaultNATSConfig()
		nc.URL = cfg.Storage.NATSURL
		nc.Name = "driftd"
		natsClient, err = events.NewNATSClient(nc)
		if err != nil {
			logg.Fatal("nats connection failed",
				zap.String("url", cfg.Storage.NATSURL), zap.Error(err))
		}
		pub := events.NewNATSPublisher(natsClient)
		hub.Subscribe("nats-bridge", 1024, pub.Publish)
	}

	var reportStore *report.Store
	if cfg.Storage.PostgresDSN != "" {
		db, err := report.Open(cfg.Storage.PostgresDSN)
		if err != nil {
			logg.Fatal("postgres connection failed", zap.Error(err))
		}
		defer db.Close()
		reportStore = report.NewStore(db)
	}
	reports := report.NewService(reportStore, bans, limiter)

	stream := ws.NewStream(chats, hub)

	runner, err := sweep.New(cfg.Sweep.Cron, chats, matches, limiter, st)
	if err != nil {
		logg.Fatal("sweep schedule", zap.String("cron", cfg.Sweep.Cron), zap.Error(err))
	}
	stopSweep := runner.Start(context.Background())

	api := httpapi.New(httpapi.Config{
		CORSOrigins: cfg.Server.CORSOrigins,
		RateRPS:     cfg.Server.RateRPS,
		RateBurst:   cfg.Server.RateBurst,
	}, httpapi.Deps{
		Issuer:   issuer,
		Sessions: sessions,
		Bans:     bans,
		Chats:    chats,
		Matches:  matches,
		Reports:  reports,
		Blocks:   blocklist,
		Stream:   stream,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.Handler(),
		// Stream connections are long-lived; only the handshake read
		// gets a timeout here.
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logg.Info("listening",
			zap.String("addr", cfg.Server.ListenAddr),
			zap.Bool("redis", rdb != nil),
			zap.Bool("nats", natsClient != nil),
			zap.Bool("postgres", reportStore != nil))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("http server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logg.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Warn("http shutdown", zap.Error(err))
	}

	stream.Close()
	stopSweep()
	persister.Stop()

	if err := st.SaveSnapshot(store.Export(chats, matches)); err != nil {
		logg.Warn("final snapshot failed", zap.Error(err))
	}
	if err := st.Close(); err != nil {
		logg.Warn("store close", zap.Error(err))
	}
	if natsClient != nil {
		natsClient.Close()
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logg.Warn("redis close", zap.Error(err))
		}
	}
	logg.Info("stopped")
}

// flagPassed reports whether the named flag was set on the command line,
// so DRIFT_CONFIG can fill in only when it was not.
func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/viksva/lobbyd/internal/auth"
	"github.com/viksva/lobbyd/internal/config"
	"github.com/viksva/lobbyd/internal/database"
	"github.com/viksva/lobbyd/internal/engine"
	"github.com/viksva/lobbyd/internal/events"
	"github.com/viksva/lobbyd/internal/gateway"
	"github.com/viksva/lobbyd/internal/reconciler"
)

// guildStores adapts *database.Stores to the engine's provider interface.
type guildStores struct {
	stores *database.Stores
}

func (g guildStores) Guild(ctx context.Context, guild string) (engine.Store, error) {
	st, err := g.stores.Guild(ctx, guild)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// sweepStores adapts *database.Stores to the reconciler's provider
// interface.
type sweepStores struct {
	stores *database.Stores
}

func (s sweepStores) Guilds() []string {
	return s.stores.Guilds()
}

func (s sweepStores) Guild(ctx context.Context, guild string) (reconciler.Store, error) {
	st, err := s.stores.Guild(ctx, guild)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	ctx := context.Background()

	stores, err := database.NewStores(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatalf("failed to connect database: %v", err)
	}
	defer stores.Close()

	var (
		engineFeed engine.Publisher
		sweepFeed  reconciler.Publisher
	)
	if cfg.RedisAddr != "" {
		publisher, err := events.NewPublisher(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.EventQueue)
		if err != nil {
			logger.Fatalf("failed to connect event feed: %v", err)
		}
		defer publisher.Close()
		engineFeed, sweepFeed = publisher, publisher
		logger.Infof("event feed on %s list %q", cfg.RedisAddr, cfg.EventQueue)
	} else {
		logger.Info("event feed disabled (REDIS_ADDR unset)")
	}

	var bridgeAuth *auth.Bridge
	if cfg.BridgeKeyPrivate != "" {
		bridgeAuth, err = auth.NewBridgeFromPath(cfg.BridgeKeyPrivate, cfg.BridgeKeyPublic, cfg.BridgeTokenExpiry)
	} else {
		bridgeAuth, err = auth.NewBridge(cfg.BridgeTokenExpiry)
	}
	if err != nil {
		logger.Fatalf("failed to init bridge auth: %v", err)
	}
	for _, guild := range cfg.BridgeGuilds {
		token, err := bridgeAuth.CreateToken(guild)
		if err != nil {
			logger.Fatalf("failed to mint bridge token for %s: %v", guild, err)
		}
		logger.Infof("bridge token for guild %s: %s", guild, token)
	}

	gw := gateway.New(bridgeAuth, logger)
	eng := engine.New(guildStores{stores}, gw, engineFeed, cfg.SessionTTL, cfg.SystemActorID, logger)
	gw.BindEngine(eng)

	rec := reconciler.New(sweepStores{stores}, sweepFeed, cfg.ReconcileInterval, logger)
	recCtx, stopReconciler := context.WithCancel(ctx)
	go rec.Run(recCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/bridge/ws/", gw.Handler())

	server := &http.Server{
		Handler:     mux,
		ReadTimeout: time.Second * 10,
	}

	l, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	stopReconciler()
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("server shutdown: %v", err)
	}
}

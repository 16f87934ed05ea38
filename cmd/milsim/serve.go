package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/ernie/milsim/internal/api"
	"github.com/ernie/milsim/internal/auth"
	"github.com/ernie/milsim/internal/config"
	"github.com/ernie/milsim/internal/domain"
	"github.com/ernie/milsim/internal/engine"
	"github.com/ernie/milsim/internal/hub"
	"github.com/ernie/milsim/internal/storage"
)

// cmdInit writes a default config file with a random JWT secret
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "where to write the configuration file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		fmt.Printf("milsim is already initialized (%s exists).\n", *configPath)
		fmt.Println("To re-initialize, remove the config file first.")
		return
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fatal(fmt.Errorf("generating JWT secret: %w", err))
	}
	cfg := config.Defaults()
	cfg.Auth.JWTSecret = hex.EncodeToString(secret)
	if err := config.Save(*configPath, cfg); err != nil {
		fatal(err)
	}

	fmt.Printf("Config: %s\n", *configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s with your settings\n", *configPath)
	fmt.Printf("  2. Create a game master: milsim user add --admin --config %s <username>\n", *configPath)
	fmt.Printf("  3. Start milsim: milsim serve --config %s\n", *configPath)
}

// cmdServe starts the game server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fatal(fmt.Errorf("failed to load config: %w", err))
	}
	setupLogging(cfg.Log)

	log.Info().Str("version", version).Msg("milsim starting")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to initialize database")
	}
	defer store.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("database initialized")

	// Optional NATS mirror of every game event
	var sinks []hub.Sink
	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		emb, err := hub.StartEmbedded(cfg.Server.ListenAddr, cfg.NATS.EmbeddedPort)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start embedded NATS")
		}
		defer emb.Shutdown()
		if natsURL == "" {
			natsURL = emb.URL()
		}
	}
	if natsURL != "" {
		mirror, err := hub.NewNATSMirror(hub.NATSConfig{URL: natsURL, SubjectPrefix: cfg.NATS.SubjectPrefix})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer mirror.Close()
		sinks = append(sinks, mirror)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eng *engine.Engine
	h := hub.New(func(gameID int64) ([]domain.Event, error) { return eng.SnapshotEvents(gameID) }, sinks...)
	eng = engine.New(clockwork.NewRealClock(), store, h, engine.Options{
		TickInterval:          cfg.Game.TickInterval,
		CheckpointEvery:       cfg.Game.CheckpointEvery,
		PositionFreshness:     cfg.Game.PositionFreshness,
		PositionPointsPerTick: cfg.Game.PositionPointsPerTick,
	})
	if err := eng.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load games")
	}
	go h.Run(ctx)

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("no JWT secret configured, auth tokens will use an empty secret")
	}

	router := api.NewRouter(store, eng, h, authService, api.Options{
		StaticDir:         cfg.Server.StaticDir,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		MessagesPerSecond: cfg.Game.MessagesPerSecond,
		MessageBurst:      cfg.Game.MessageBurst,
	})
	if cfg.Server.StaticDir != "" {
		log.Info().Str("dir", cfg.Server.StaticDir).Msg("serving static files")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	// Sequential shutdown
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("checkpointing games")
	eng.Close()

	cancel()
	log.Info().Msg("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/config"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	transporthttp "github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comp, err := buildComponents(ctx, cfg, log)
	if err != nil {
		log.Fatalw("components_init_failed", "error", err)
	}
	comp.start(ctx, cfg)

	app := transporthttp.NewApp(cfg, log)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"storage":   comp.storage,
			"websocket": comp.hub.Stats(),
		})
	})
	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Logger:        log,
		Config:        cfg,
		Progress:      comp.progress,
		Notifications: comp.notifications,
		Preferences:   comp.preferences,
		Rules:         comp.engine,
		RuleReloader:  comp.reloader(),
		Bus:           comp.bus,
		Hub:           comp.hub,
	})

	addr := cfg.Server.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalw("server_listen_failed", "addr", addr, "error", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- app.Listener(ln) }()
	log.Infow("server_started", "addr", addr, "storage", comp.storage)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Infow("server_stopping", "signal", sig.String())
	case err := <-serveErr:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Errorw("server_failed", "error", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorw("server_shutdown_failed", "error", err)
	}

	cancel()
	comp.close(log)
	log.Info("server stopped")
}

// resolveConfigPath prefers the flag, then SKILLDASH_CONFIG, then the
// conventional locations relative to the working directory.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("SKILLDASH_CONFIG"); env != "" {
		return env
	}
	for _, candidate := range []string{"config/config.yaml", "../config/config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "config/config.yaml"
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mcclellann/loandesk/pkg/auth"
	"github.com/mcclellann/loandesk/pkg/config"
	"github.com/mcclellann/loandesk/pkg/events"
	"github.com/mcclellann/loandesk/pkg/logging"
	"github.com/mcclellann/loandesk/pkg/scheduler"
	"github.com/mcclellann/loandesk/pkg/store"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(os.Getenv("LOANDESK_CONFIG"))
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}
	logger := logging.InitLogger(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize SQLite store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	// Admin commands:
	//   set-password <staff-id> <password>
	//   token <staff-id>
	if len(os.Args) > 1 {
		if err := runCommand(cfg, sqliteStore, os.Args[1:]); err != nil {
			logger.Error("command failed", "command", os.Args[1], "error", err)
			os.Exit(1)
		}
		return
	}

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	server := NewServer(cfg, sqliteStore, publisher, logger)

	sched := scheduler.NewScheduler(server.drafts, cfg.DraftIdleTTL(), cfg.DraftSweepSchedule, server.metrics.DraftsSwept, logger)
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server starting", "port", cfg.ServerPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	<-sched.Stop().Done()
}

// newPublisher connects to RabbitMQ when a URL is configured. Submissions do
// not depend on the broker, so a failed connection falls back to logging events.
func newPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	if cfg.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL not set, events will only be logged")
		return events.NoopPublisher{Logger: logger}
	}
	p, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.LoanEventsExchange, logger)
	if err != nil {
		logger.Warn("failed to connect to RabbitMQ, events will only be logged", "error", err)
		return events.NoopPublisher{Logger: logger}
	}
	return p
}

func runCommand(cfg *config.Config, s store.Storage, args []string) error {
	switch {
	case args[0] == "set-password" && len(args) == 3:
		hash, err := auth.HashPassword(args[2])
		if err != nil {
			return err
		}
		return s.SetStaffPassword(context.Background(), args[1], hash)
	case args[0] == "token" && len(args) == 2:
		return printToken(cfg, s, args[1])
	}
	return fmt.Errorf("usage: %s [set-password <staff-id> <password> | token <staff-id>]", os.Args[0])
}

func printToken(cfg *config.Config, s store.Storage, staffID string) error {
	st, err := s.GetStaff(context.Background(), staffID)
	if err != nil {
		return err
	}
	token, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL()).Issue(auth.Session{
		StaffID:   st.ID,
		Name:      st.Name,
		Role:      st.Role,
		CenterIDs: st.CenterIDs,
	})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

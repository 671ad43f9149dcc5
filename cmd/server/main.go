package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/atelier-ec/newsletter/internal/api"
	"github.com/atelier-ec/newsletter/internal/config"
	"github.com/atelier-ec/newsletter/internal/mailerlite"
	"github.com/atelier-ec/newsletter/internal/notify"
	"github.com/atelier-ec/newsletter/internal/pkg/distlock"
	"github.com/atelier-ec/newsletter/internal/pkg/logger"
	"github.com/atelier-ec/newsletter/internal/reconcile"
	"github.com/atelier-ec/newsletter/internal/registry"
	"github.com/atelier-ec/newsletter/internal/repository/postgres"
	"github.com/atelier-ec/newsletter/internal/token"
)

// checkPortAvailable verifies that the target port is not already in use, so
// a stale process does not silently steal the listener.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logger.DEBUG)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	issuer := token.NewIssuer(cfg.Tokens.Secret, cfg.Tokens.ConfirmationTTL(), cfg.Tokens.UnsubscribeTTL())
	repo := postgres.NewSubscriberRepo(db)
	reg := registry.NewService(repo, issuer, cfg.Newsletter.PromoPrefix)

	provider := mailerlite.NewClient(mailerlite.Config{
		APIKey:      cfg.MailerLite.APIKey,
		BaseURL:     cfg.MailerLite.BaseURL,
		GroupName:   cfg.MailerLite.GroupName,
		SenderEmail: cfg.MailerLite.SenderEmail,
		SenderName:  cfg.MailerLite.SenderName,
		Timeout:     cfg.MailerLite.Timeout(),
	})

	apiURL := fmt.Sprintf("http://%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	if v := os.Getenv("PUBLIC_API_URL"); v != "" {
		apiURL = v
	}

	queue := notify.NewQueue(rdb, cfg.Redis.QueueKey)
	dispatcher := notify.NewDispatcher(reg, provider, nil, issuer, notify.NewRenderer(),
		apiURL, cfg.Newsletter.FrontendURL, cfg.Newsletter.SendMode)
	worker := notify.NewWorker(queue, dispatcher)

	reconcileLock := distlock.New(rdb, db, "reconcile", 15*time.Minute)
	reconciler := reconcile.New(reg, provider, reconcileLock)

	server := api.NewServer(reg, provider, queue, issuer, reconciler,
		cfg.Newsletter.FrontendURL, cfg.MailerLite.WebhookSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	if err := checkPortAvailable(cfg.Server.GetHost(), cfg.Server.Port); err != nil {
		log.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- server.ListenAndServe(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
}

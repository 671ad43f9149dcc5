// Command reconcile runs one reconciliation pass against the mailing
// provider and exits. Intended for cron or operator use.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/atelier-ec/newsletter/internal/config"
	"github.com/atelier-ec/newsletter/internal/mailerlite"
	"github.com/atelier-ec/newsletter/internal/pkg/distlock"
	"github.com/atelier-ec/newsletter/internal/reconcile"
	"github.com/atelier-ec/newsletter/internal/registry"
	"github.com/atelier-ec/newsletter/internal/repository/postgres"
	"github.com/atelier-ec/newsletter/internal/token"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	// Same lock backend and arguments as the server's admin trigger, so the
	// two can never walk the provider group concurrently.
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
	reg := registry.NewService(postgres.NewSubscriberRepo(db), issuer, cfg.Newsletter.PromoPrefix)

	provider := mailerlite.NewClient(mailerlite.Config{
		APIKey:      cfg.MailerLite.APIKey,
		BaseURL:     cfg.MailerLite.BaseURL,
		GroupName:   cfg.MailerLite.GroupName,
		SenderEmail: cfg.MailerLite.SenderEmail,
		SenderName:  cfg.MailerLite.SenderName,
		Timeout:     cfg.MailerLite.Timeout(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	lock := distlock.New(rdb, db, "reconcile", 15*time.Minute)
	result := reconcile.New(reg, provider, lock).Run(ctx)
	if errors.Is(result.Err, reconcile.ErrAlreadyRunning) {
		fmt.Fprintln(os.Stderr, "another reconciliation is in progress")
		os.Exit(2)
	}
	fmt.Printf("checked=%d updated=%d confirmed=%d pages=%d\n",
		result.Checked, result.Updated, result.Confirmed, result.Pages)
	if result.Err != nil {
		fmt.Fprintf(os.Stderr, "run ended early: %v\n", result.Err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/ridepool/ridepool-backend/internal/config"
	"github.com/ridepool/ridepool-backend/internal/database"
	"github.com/ridepool/ridepool-backend/internal/gateway"
	"github.com/ridepool/ridepool-backend/internal/services"
	"github.com/ridepool/ridepool-backend/internal/settlement"
	"github.com/ridepool/ridepool-backend/internal/store"
)

// The sweeper settles every booking whose report window has ended. It runs
// once and exits, which is what a cron or Cloud Scheduler invocation wants;
// -interval keeps it resident and ticking instead.
func main() {
	interval := flag.Duration("interval", 0, "keep running and sweep every interval (0 = run once)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := database.InitDB()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if err := services.InitRedis(); err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}

	// Firebase is optional; without it, notifications still land in the
	// notifications table for the fan-out.
	if err := services.InitFirebase(); err != nil {
		log.Printf("Firebase initialization warning: %v", err)
	}

	audit, err := services.NewSettlementAuditLog(cfg.AuditBucket, cfg.AuditDir)
	if err != nil {
		log.Fatalf("Failed to initialize audit storage: %v", err)
	}

	sweeper := &settlement.Sweeper{
		Store: store.NewBookingStore(db),
		Exec: &settlement.Executor{
			Store:    store.NewBookingStore(db),
			Gateway:  gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.ClientID, cfg.Gateway.ClientSecret),
			Notifier: services.NewNotifier(db),
			Archiver: services.NewRideArchiver(db, cfg.DryRun),
			Audit:    audit,
			DryRun:   cfg.DryRun,
		},
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
	}
	if cfg.DryRun {
		log.Println("Settlement dry-run enabled: gateway calls and ride deletion are simulated")
	}

	runGuarded(sweeper)

	if *interval <= 0 {
		return
	}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		runGuarded(sweeper)
	}
}

// runGuarded takes the cross-instance Redis guard before sweeping, so two
// scheduled instances don't scan the same batch. A guard failure is not
// fatal: the per-booking lock keeps an unguarded sweep correct.
func runGuarded(sweeper *settlement.Sweeper) {
	ctx := context.Background()

	acquired, err := services.AcquireSweepGuard(ctx, 5*time.Minute)
	if err != nil {
		log.Printf("Sweep guard unavailable, sweeping anyway: %v", err)
	} else if !acquired {
		log.Println("Another sweeper instance holds the guard, skipping this run")
		return
	}

	sweeper.Run(ctx)

	if err == nil && acquired {
		if relErr := services.ReleaseSweepGuard(ctx); relErr != nil {
			log.Printf("Failed to release sweep guard: %v", relErr)
		}
	}
}

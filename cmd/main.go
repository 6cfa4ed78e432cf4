package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"agencycrm/internal/api"
	"agencycrm/internal/config"
	"agencycrm/internal/db"
	"agencycrm/internal/events"
	"agencycrm/internal/gateway"
	"agencycrm/internal/journal"
	"agencycrm/internal/poller"
	"agencycrm/internal/store"
	"agencycrm/internal/utils/logger"
)

func main() {

	console := logger.New("agencycrm")

	// check if .env file exists
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		console.Info("No .env file found, skipping environment variable loading")
	} else {
		console.Info("Loading environment variables from .env file")
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Failed to load environment variables: %v", err)
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	client := gateway.NewClient(cfg.Backend)
	bus := events.NewEventBus()
	st := store.New(cfg.Core, store.RemoteBackends(client), bus)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), cfg.Backend.HTTPTimeout)
	if err := st.Load(loadCtx); err != nil {
		// The poller retries; the dashboard starts with whatever did load.
		console.Warn("Initial load incomplete: %v", err)
	}
	loadCancel()

	opts := api.Options{}

	// Mutation journal
	if cfg.Database.Enabled {
		conn, err := db.Connect(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer func() {
			if err := db.Close(conn); err != nil {
				console.Error("Failed to close database connection", err)
			}
		}()
		j := journal.New(conn)
		j.Subscribe(bus)
		opts.Journal = j
	}

	// Shared mutation rate limit
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		opts.Redis = rdb
	}

	// Background refresh
	scheduler := poller.NewScheduler(cfg.Backend.HTTPTimeout, console.Named("poller"))
	if err := st.Schedule(scheduler, cfg.Core.PollInterval); err != nil {
		log.Fatalf("Failed to schedule refresh: %v", err)
	}
	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	scheduler.Start(schedulerCtx)

	// Initialize API server
	apiServer := api.NewServer(cfg, st, opts)
	go func() {
		console.Success("API server started")
		if err := apiServer.Start(); err != nil {
			console.Error("API server error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Create a deadline for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	scheduler.Stop()

	// Shutdown API server
	if err := apiServer.Shutdown(ctx); err != nil {
		console.Error("Failed to shutdown API server", err)
	}

	// Let journal writes for settled mutations finish
	bus.Wait()

	console.Info("Servers shutdown gracefully")
}

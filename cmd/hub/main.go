// Command hub runs the central CDC relay: the websocket session endpoint,
// tenant-isolated router, offline queue and conflict bookkeeping that
// branches synchronize through.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/cdchub/internal/cache"
	"github.com/xelth-com/cdchub/internal/config"
	"github.com/xelth-com/cdchub/internal/database"
	"github.com/xelth-com/cdchub/internal/hub"
	"github.com/xelth-com/cdchub/internal/httpapi"
	"github.com/xelth-com/cdchub/internal/models"
)

func main() {
	cfg, err := config.LoadHub()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
		os.Exit(1)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Printf("fatal storage error: %v", err)
		os.Exit(2)
	}
	defer db.Close()

	log.Println("🚀 Synchronizing hub schema...")
	err = db.AutoMigrate(
		&models.Tenant{},
		&models.Branch{},
		&models.OfflineMessage{},
		&models.ConflictResolution{},
		&models.SyncTransaction{},
		&models.AuditLog{},
	)
	if err != nil {
		log.Printf("⚠️  migration warning: %v", err)
	} else {
		log.Println("✅ schema synchronized")
	}

	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	fanout := cache.NewFanout(cfg.RedisURL, instanceID)

	var limits *hub.RateLimiters
	if fanout.Enabled() {
		log.Println("✅ auxiliary cache connected, shared rate limiting enabled")
		limits = hub.NewSharedRateLimiters(fanout.Client())
	} else {
		log.Println("⚠️  no REDIS_URL configured, multi-node fan-out disabled, rate limiting is per-instance")
		limits = hub.NewRateLimiters()
	}

	registry := hub.NewRegistry()
	dir := hub.NewDirectory(db.DB, cfg.OfflineTTL)
	queue := hub.NewOfflineQueue(db.DB)
	audit := hub.NewAuditor(db.DB)
	conflicts := hub.NewConflictRecorder(db.DB)
	transactions := hub.NewTransactionRecorder(db.DB)
	metrics := httpapi.NewMetrics()
	router := hub.NewRouter(registry, dir, queue, limits, audit, conflicts, transactions, metrics)
	authenticator := hub.NewAuthenticator(db.DB, cfg.JWTSecret, cfg.TokenTTL)

	stopExpiry := startOfflineExpiry(queue)
	defer close(stopExpiry)

	apiRouter := httpapi.NewRouter(authenticator, registry, router, metrics, db, cfg.AdminAPIKey)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: apiRouter,
	}

	go func() {
		log.Printf("✅ hub listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("🛑 shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

func startOfflineExpiry(queue *hub.OfflineQueue) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				if n, err := queue.Expire(now); err != nil {
					log.Printf("⚠️  offline queue expiry failed: %v", err)
				} else if n > 0 {
					log.Printf("🧹 expired %d offline messages", n)
				}
			}
		}
	}()
	return stop
}

// Command branch runs the site-side agent: it tails the local change log,
// ships batches to the hub, and applies whatever the hub relays back from
// other branches in the same tenant.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xelth-com/cdchub/internal/branch"
	"github.com/xelth-com/cdchub/internal/conflict"
	"github.com/xelth-com/cdchub/internal/config"
)

func main() {
	cfg, err := config.LoadBranch()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
		os.Exit(1)
	}

	store, err := branch.OpenStore(cfg.LocalDatabaseURL, cfg.BranchID)
	if err != nil {
		log.Printf("fatal storage error: %v", err)
		os.Exit(2)
	}

	resolver := conflict.New(conflict.Strategy(cfg.ConflictStrategy), nil)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("🛑 shutting down...")
		cancel()
	}()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		agent, err := branch.DialAgent(cfg, store, resolver)
		if err != nil {
			log.Printf("⚠️  branch: connect failed, retrying: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		log.Printf("✅ connected to hub as tenant=%s branch=%s", cfg.TenantID, cfg.BranchID)
		if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("⚠️  branch: session ended: %v, reconnecting", err)
		}
	}
}

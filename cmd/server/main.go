package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tasks "signet/internal/Tasks"
	"signet/internal/api"
	"signet/internal/auth"
	"signet/internal/chat"
	"signet/internal/config"
	"signet/internal/db"
	"signet/internal/keydir"
	"signet/internal/middleware"
	"signet/internal/replay"
	"signet/internal/repository"
	"signet/internal/verify"
)

func buildDirectory(ctx context.Context, cfg *config.Config) keydir.Directory {
	if cfg.KeyDirFile == "" {
		return keydir.IdentityDirectory{}
	}

	dir, err := keydir.NewFileDirectory(cfg.KeyDirFile)
	if err != nil {
		log.Fatalf("[KEYDIR] Failed to load %s: %v", cfg.KeyDirFile, err)
	}
	go func() {
		if err := dir.Watch(ctx); err != nil {
			log.Printf("[KEYDIR] Watcher stopped: %v", err)
		}
	}()
	return dir
}

func main() {

	cfg := config.Load()

	conn, err := db.Connect(cfg.DBDriver, cfg.DBSource)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
		return
	}
	defer conn.Close()

	if err := db.Migrate(conn, cfg.DBDriver); err != nil {
		log.Fatal("Failed to run migrations:", err)
		return
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := buildDirectory(rootCtx, cfg)
	guard := replay.NewGuard(int64(cfg.MaxSkewSeconds), func() int64 { return time.Now().Unix() })
	verifier := verify.NewVerifier(dir, guard)

	h := chat.NewHub(cfg.HubShards)
	go h.Run()

	svc := chat.NewService(
		repository.NewRoomRepo(conn),
		repository.NewChatRepo(conn),
		verifier,
		h,
	)

	issuer := auth.NewTokenIssuer([]byte(cfg.AuthKey), time.Duration(cfg.TokenTTLMin)*time.Minute)
	limiter := middleware.NewKeyedLimiter(int32(cfg.RateLimitBurst), time.Duration(cfg.RateLimitRefillMs)*time.Millisecond)

	sweeper := tasks.NewNonceSweeper(guard)
	sweeper.Start()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewRouter(svc, h, issuer, verifier, limiter),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Printf("🚀 Signet server starting on :%s...\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil {
			if err != http.ErrServerClosed {
				log.Fatalf("ListenAndServe: %v", err)
			}
		}
	}()

	<-stop

	fmt.Println("\nShutdown signal received. Cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	close(h.Quit)
	sweeper.Stop()
	cancel()

	time.Sleep(1 * time.Second)
	fmt.Println("Graceful shutdown complete. Goodnight!")
}

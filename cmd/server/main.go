package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drivesentry/drivesentry/internal/app"
	"github.com/drivesentry/drivesentry/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	server, err := app.CreateServer(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer server.Cleanup()

	cancelCleanup, cleanupDone := server.StartCleanupLoop()
	defer func() {
		cancelCleanup()
		<-cleanupDone
	}()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.HTTP.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Server listening on http://localhost:%d", cfg.Port)
	if err := server.HTTP.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped")
}

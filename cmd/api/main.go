package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"docmanager-backend/internal/bootstrap"
	"docmanager-backend/internal/shared/config"
	"docmanager-backend/internal/shared/server"
)

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	app.WorkPool.Start()

	srv := &http.Server{
		Addr:    server.Addr(cfg),
		Handler: app.Router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting API server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown requested, draining for up to %s", cfg.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting requests first so nothing enqueues new OCR jobs, then
	// drain the pool.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := app.WorkPool.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker shutdown: %v", err)
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			log.Printf("db close: %v", err)
		}
	}
}

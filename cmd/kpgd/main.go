package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gonkalabs/kpg-client/internal/api"
	"github.com/gonkalabs/kpg-client/internal/audit"
	"github.com/gonkalabs/kpg-client/internal/config"
	"github.com/gonkalabs/kpg-client/internal/evidence"
	"github.com/gonkalabs/kpg-client/internal/logging"
	"github.com/gonkalabs/kpg-client/internal/policy"
	"github.com/gonkalabs/kpg-client/internal/sanitize/ner"
	"github.com/gonkalabs/kpg-client/internal/signer"
	"github.com/gonkalabs/kpg-client/internal/store"
	"github.com/gonkalabs/kpg-client/internal/upstream"
	"github.com/gonkalabs/kpg-client/internal/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: ./kpg.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	up := upstream.New(cfg.APIBase, cfg.RequestTimeout, upstream.WithLogger(log))

	var sig *signer.Signer
	if cfg.Audit.SigningKey != "" {
		sig, err = signer.New(cfg.Audit.SigningKey)
		if err != nil {
			log.Fatal("signer error", zap.Error(err))
		}
		log.Info("audit signing enabled", zap.String("signer", sig.Address()))
	}

	hub := api.NewHub(log)
	opts := []workflow.Option{
		workflow.WithStrictPolicy(cfg.Policy.Strict),
		workflow.WithPreviewLen(cfg.Audit.PreviewLen),
		workflow.WithObserver(hub.Publish),
		workflow.WithLogger(log),
	}
	if cfg.Audit.JournalPath != "" {
		journal, err := store.Open(cfg.Audit.JournalPath)
		if err != nil {
			log.Fatal("journal error", zap.String("path", cfg.Audit.JournalPath), zap.Error(err))
		}
		defer journal.Close()
		opts = append(opts, workflow.WithJournal(journal))
		log.Info("audit receipt journal enabled", zap.String("path", cfg.Audit.JournalPath))
	}

	orch := workflow.New(
		ner.New(up),
		policy.NewClient(up),
		evidence.New(up),
		audit.NewRemote(up, sig),
		opts...,
	)
	handler := api.New(orch, workflow.NewRegistry(), hub, cfg.CORS.AllowedOrigins, log)

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler.Routes(),
		ReadTimeout: 30 * time.Second,
		// Stages chain up to two collaborator calls plus audit appends.
		WriteTimeout: 5*cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		s := <-sigCh
		log.Info("shutting down", zap.String("signal", s.String()))

		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()

		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
	}()

	log.Info("starting kpg client api",
		zap.String("addr", cfg.ListenAddr),
		zap.String("api_base", up.BaseURL()),
		zap.Bool("strict_policy", cfg.Policy.Strict),
		zap.Bool("signed_audit", sig != nil),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server error", zap.Error(err))
	}
}

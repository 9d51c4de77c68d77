// Package main runs the neomix service: an HTTP API that moves GAS on
// Neo N3 through chains of single-use hop accounts.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/neomix/internal/chain"
	"github.com/R3E-Network/neomix/internal/config"
	"github.com/R3E-Network/neomix/internal/metrics"
	"github.com/R3E-Network/neomix/pkg/logger"
	"github.com/R3E-Network/neomix/services/mixer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("neomix").Error("load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stderr, "neomix", cfg.LogLevel)
	log.Info("starting neomix",
		"listen", cfg.ListenAddr,
		"rpc", cfg.RPCURL,
		"magic", cfg.NetworkMagic,
		"delegation", cfg.Mixer.Delegation.Enabled,
	)

	client, err := chain.NewClient(chain.Config{
		RPCURL:       cfg.RPCURL,
		NetworkMagic: cfg.NetworkMagic,
		Timeout:      cfg.RPCTimeout,
		SubmitRate:   cfg.SubmitRate,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		log.Error("create chain client", "error", err)
		os.Exit(1)
	}

	svc, err := mixer.NewService(cfg.Mixer, client, log.With("component", "mixer"))
	if err != nil {
		log.Error("create mixer service", "error", err)
		os.Exit(1)
	}

	router := mux.NewRouter()
	svc.RegisterRoutes(router)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      metrics.InstrumentHandler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // synchronous mixes block on hop delays
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	log.Info("stopped")
}

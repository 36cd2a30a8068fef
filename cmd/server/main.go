package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pesio-ai/be-ap-lifecycle/internal/analytics"
	"github.com/pesio-ai/be-ap-lifecycle/internal/app"
	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/config"
	"github.com/pesio-ai/be-ap-lifecycle/internal/handler"
	"github.com/pesio-ai/be-ap-lifecycle/internal/logger"
	"github.com/pesio-ai/be-ap-lifecycle/internal/service"
	"github.com/pesio-ai/be-ap-lifecycle/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("AP_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("ap-lifecycle-api", cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("addr", cfg.HTTP.Addr).Msg("starting AP lifecycle API")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := app.BuildStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	b, err := app.BuildBus(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("bus init failed")
	}

	l := app.BuildLedger(st, log)
	intake := service.NewIntakeService(st, b, log)
	review := service.NewReviewService(st, b, log)

	// The memory bus is process-local, so a standalone worker binary could
	// never see its events; run the whole pipeline in-process instead.
	var wg sync.WaitGroup
	if cfg.Bus.Driver == "memory" {
		pols := app.BuildPolicies(cfg, st, l, log)
		notifier := app.BuildNotifier(b, log)
		wcfg := app.WorkerConfig(cfg)
		for _, step := range worker.Steps(pols) {
			w := worker.New(step, b, st, notifier, wcfg, log)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Run(ctx); err != nil {
					log.Error().Err(err).Msg("worker exited")
				}
			}()
		}
		tap := analytics.New(b, st, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tap.Run(ctx); err != nil {
				log.Error().Err(err).Msg("analytics tap exited")
			}
		}()
	}

	inspector, _ := b.(bus.Inspector)
	h := handler.NewHTTPHandler(intake, review, st, l, inspector, log)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	wg.Wait()
	log.Info().Msg("stopped")
}

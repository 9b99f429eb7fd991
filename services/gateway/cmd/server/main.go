package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/config"
	"github.com/akhdaniel/vendorchain/pkg/db"
	"github.com/akhdaniel/vendorchain/pkg/ledger"
	"github.com/akhdaniel/vendorchain/pkg/logger"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/payments"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/store"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/tamper"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/verify"
	"github.com/akhdaniel/vendorchain/services/gateway/internal/workflow"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB.Pool())
	if err != nil {
		log.Error("connect database", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	lc := ledger.New(ledger.Config{
		SubmitBaseURL: cfg.Ledger.SubmitBaseURL,
		QueryBaseURL:  cfg.Ledger.QueryBaseURL,
		Timeout:       cfg.Ledger.Timeout.Std(),
		MaxAttempts:   cfg.Ledger.MaxAttempts,
		BaseDelay:     cfg.Ledger.BaseDelay.Std(),
		MaxDelay:      cfg.Ledger.MaxDelay.Std(),
		DegradedMode:  cfg.Ledger.DegradedMode,
	}, log)
	defer lc.Close()

	st := store.New(pool)
	engine := workflow.NewEngine(st, lc, log)
	recorder := payments.NewRecorder(st, lc, log)
	verifier := verify.New(st, lc, log)

	scheduler := tamper.NewScheduler(st, verifier, engine, tamper.LogSink{Log: log},
		cfg.Tamper.Interval.Std(), time.Duration(cfg.Tamper.WindowMinutes)*time.Minute, log)
	scheduler.Start()
	defer scheduler.Stop()

	srv := &server{
		store:         st,
		engine:        engine,
		payments:      recorder,
		verifier:      verifier,
		ledger:        lc,
		auth:          newAuthenticator(cfg.Auth, cfg.Users),
		webhookSecret: cfg.Webhook.Secret,
		log:           log,
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("gateway listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	engine.Wait()
	recorder.Wait()
}

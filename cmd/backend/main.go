package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"student-tracker/internal/config"
	"student-tracker/internal/logging"
	"student-tracker/internal/server"
)

func main() {
	config.LoadDotEnv()
	log := logging.FromEnv(os.Getenv)
	logging.SetDefault(log)

	cfg := config.Load(os.Getenv)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid_configuration", nil, err)
		os.Exit(1)
	}
	cfg.WarnOnOptionalMissing()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	lc, err := server.FromConfig(cfg, log, reg)
	if err != nil {
		log.Error("lifecycle_init_failed", nil, err)
		os.Exit(1)
	}

	// A serverless host imports api/index.go instead of running this binary.
	if lc.Mode() == server.ModeServerless {
		log.Info("serverless_mode_detected", logging.Fields{"msg": "not starting http server, push channel or cron jobs"})
		return
	}

	// SIGINT (Ctrl+C) or SIGTERM (container stop) cancels ctx and
	// RunStandalone shuts down gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting", logging.Fields{"addr": cfg.Addr(), "env": cfg.Env, "version": server.Version})
	if err := lc.RunStandalone(ctx); err != nil {
		log.Error("server_error", nil, err)
		os.Exit(1)
	}
}

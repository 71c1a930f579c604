package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ledgerdb/pkg/api"
	"ledgerdb/pkg/config"
	"ledgerdb/pkg/core"
	"ledgerdb/pkg/finance"
)

func main() {
	configPath := flag.String("config", "", "path to ledger.yaml (default: search configs/ledger.yaml, ledger.yaml)")
	addr := flag.String("addr", "", "listen address, overrides server.addr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	opt := core.OptionsFromConfig(cfg)
	opt.Logger = logger
	ledger, err := finance.Open(opt)
	if err != nil {
		logger.Error("open ledger", "dir", cfg.Storage.Path, "err", err)
		os.Exit(1)
	}
	logger.Info("ledger ready", "dir", cfg.Storage.Path, "load_mode", ledger.Store().LoadMode(), "sync_mode", cfg.Storage.SyncMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(ledger, logger)
	if err := srv.Start(ctx, cfg.Server.Addr); err != nil {
		logger.Error("http server stopped", "err", err)
	}
	if err := ledger.Close(); err != nil {
		logger.Error("close ledger", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// Command migrate copies every table of a ledger data directory into a
// SQLite file, one (key, value) table per ledger table.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"ledgerdb/pkg/config"
	"ledgerdb/pkg/core"
	"ledgerdb/pkg/finance"
	"ledgerdb/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to ledger.yaml")
	dataDir := flag.String("data", "", "data directory, overrides storage.path")
	out := flag.String("out", "ledger_export.db", "SQLite file to write")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Storage.Path = *dataDir
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	if err := run(cfg, *out, logger); err != nil {
		logger.Error("export failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, out string, logger *slog.Logger) error {
	opt := core.OptionsFromConfig(cfg)
	opt.Logger = logger
	ledger, err := finance.Open(opt)
	if err != nil {
		return err
	}
	defer ledger.Close()

	db, err := storage.OpenSQLite(out)
	if err != nil {
		return err
	}
	defer db.Close()

	var total int64
	for _, t := range ledger.Store().Tables() {
		recs := t.All()
		if err := db.ExportTable(t.Name(), recs); err != nil {
			return err
		}
		total += int64(len(recs))
		logger.Info("exported table", "table", t.Name(), "rows", humanize.Comma(int64(len(recs))))
	}
	logger.Info("export complete", "path", out, "rows", humanize.Comma(total))
	return nil
}

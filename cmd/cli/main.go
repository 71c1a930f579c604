package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"ledgerdb/pkg/common"
	"ledgerdb/pkg/config"
	"ledgerdb/pkg/core"
	"ledgerdb/pkg/finance"
)

const Prompt = "ledger> "

// The CLI opens the data directory directly; do not run it against a
// directory a server is using.
func main() {
	configPath := flag.String("config", "", "path to ledger.yaml")
	dataDir := flag.String("data", "", "data directory, overrides storage.path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Storage.Path = *dataDir
	}
	opt := core.OptionsFromConfig(cfg)
	opt.Logger = cfg.Log.NewLogger(os.Stderr)

	ledger, err := finance.Open(opt)
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	fmt.Printf("LedgerDB CLI (%s, loaded from %s)\n", cfg.Storage.Path, ledger.Store().LoadMode())
	fmt.Println("Type 'help' for commands.")
	repl(ledger.Store(), os.Stdin, os.Stdout)
}

func repl(store *core.Store, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		var err error
		switch cmd {
		case "tables", "ls":
			handleTables(store, out)
		case "get":
			err = handleGet(store, out, parts)
		case "range", "scan":
			err = handleRange(store, out, parts)
		case "lookup":
			err = handleLookup(store, out, parts)
		case "stats":
			handleStats(store, out)
		case "flush":
			err = timed(out, "Flushed", func() error { return store.Flush(context.Background()) })
		case "compact":
			err = timed(out, "Compacted", func() error { return store.Compact(context.Background()) })
		case "help":
			printHelp(out)
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		default:
			fmt.Fprintf(out, "Unknown command: '%s'. Type 'help'.\n", cmd)
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func timed(out io.Writer, what string, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%v)\n", what, time.Since(start))
	return nil
}

func parseKey(s string) (common.KeyType, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("key must be a 32-bit integer, got %q", s)
	}
	return common.KeyType(n), nil
}

func printRecord(out io.Writer, table string, rec common.Record) {
	v, err := finance.DecodeRecord(table, rec)
	if err != nil {
		fmt.Fprintf(out, "%d\t<%d bytes, undecodable: %v>\n", rec.Key, len(rec.Value), err)
		return
	}
	raw, _ := json.Marshal(v)
	fmt.Fprintf(out, "%d\t%s\n", rec.Key, raw)
}

func handleTables(store *core.Store, out io.Writer) {
	for _, t := range store.Tables() {
		var names []string
		for _, idx := range t.Def().Indices() {
			names = append(names, idx.Name())
		}
		fmt.Fprintf(out, "%-12s %6d rows  next key %-6d indices: %s\n", t.Name(), t.Size(), t.Counter(), strings.Join(names, ", "))
	}
}

func handleGet(store *core.Store, out io.Writer, parts []string) error {
	if len(parts) < 3 {
		fmt.Fprintln(out, "Usage: get <table> <key>")
		return nil
	}
	t, err := store.Table(parts[1])
	if err != nil {
		return err
	}
	key, err := parseKey(parts[2])
	if err != nil {
		return err
	}
	val, found := t.Get(key)
	if !found {
		fmt.Fprintln(out, "(not found)")
		return nil
	}
	printRecord(out, t.Name(), common.Record{Key: key, Value: val})
	return nil
}

func handleRange(store *core.Store, out io.Writer, parts []string) error {
	if len(parts) < 2 {
		fmt.Fprintln(out, "Usage: range <table> [low] [high]")
		return nil
	}
	t, err := store.Table(parts[1])
	if err != nil {
		return err
	}
	var recs []common.Record
	if len(parts) >= 4 {
		low, err := parseKey(parts[2])
		if err != nil {
			return err
		}
		high, err := parseKey(parts[3])
		if err != nil {
			return err
		}
		recs = t.Range(low, high)
	} else {
		recs = t.All()
	}
	for _, rec := range recs {
		printRecord(out, t.Name(), rec)
	}
	fmt.Fprintf(out, "(%d rows)\n", len(recs))
	return nil
}

func handleLookup(store *core.Store, out io.Writer, parts []string) error {
	if len(parts) < 4 {
		fmt.Fprintln(out, "Usage: lookup <table> <index> <value>")
		return nil
	}
	t, err := store.Table(parts[1])
	if err != nil {
		return err
	}
	hash, err := finance.IndexKey(parts[2], strings.Join(parts[3:], " "))
	if err != nil {
		return err
	}
	recs, err := t.LookupRecords(parts[2], hash)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		printRecord(out, t.Name(), rec)
	}
	fmt.Fprintf(out, "(%d rows for hash %d)\n", len(recs), hash)
	return nil
}

func handleStats(store *core.Store, out io.Writer) {
	st := store.Stats()
	fmt.Fprintf(out, "dir %s, loaded from %s, sync %s\n", st.Dir, st.LoadMode, st.SyncMode)
	for _, t := range st.Tables {
		fmt.Fprintf(out, "%-12s rows=%-6d height=%d log=%s\n", t.Name, t.Records, t.Height, humanize.Bytes(uint64(t.LogBytes)))
		for _, idx := range t.Indices {
			fmt.Fprintf(out, "  %-12s entries=%-6d depth=%d buckets=%d\n", idx.Name, idx.Entries, idx.GlobalDepth, idx.Buckets)
		}
	}
	w := st.Workload
	fmt.Fprintf(out, "reads=%s writes=%s (%.2f reads/write) hit ratio=%.2f snapshots=%s (%s, %d failed) compactions=%d\n",
		humanize.Comma(int64(w.ReadCount)), humanize.Comma(int64(w.WriteCount)), st.ReadWrite, st.HitRatio,
		humanize.Comma(int64(w.SnapshotWrites)), st.SnapshotBytes, w.SnapshotFailures, w.Compactions)
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  tables                          list tables and their indices")
	fmt.Fprintln(out, "  get <table> <key>               print one record")
	fmt.Fprintln(out, "  range <table> [low high]        print records in key order")
	fmt.Fprintln(out, "  lookup <table> <index> <value>  secondary lookup (emails, names, dates accepted)")
	fmt.Fprintln(out, "  stats                           index shapes and counters")
	fmt.Fprintln(out, "  flush                           write pending snapshots")
	fmt.Fprintln(out, "  compact                         rewrite record logs and snapshots")
	fmt.Fprintln(out, "  exit")
}

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"ledgerdb/pkg/common"
	"ledgerdb/pkg/config"
	"ledgerdb/pkg/core"
	"ledgerdb/pkg/finance"
)

func main() {
	httpAddr := flag.String("http", "http://localhost:8080", "HTTP API base URL, empty to skip")
	nReq := flag.Int("n", 5000, "Number of expenses per run")
	syncMode := flag.String("sync", config.SyncInterval, "sync mode for the embedded run")
	flag.Parse()

	fmt.Printf("LedgerDB Benchmark (N=%s)\n", humanize.Comma(int64(*nReq)))
	fmt.Println("---------------------------------------------------")

	fmt.Printf(">> Embedded ledger (%s sync)...\n", *syncMode)
	w, r := runEmbeddedBenchmark(*nReq, *syncMode)
	report(*nReq, w, r)

	if *httpAddr != "" {
		fmt.Println(">> HTTP API (JSON over HTTP 1.1)...")
		w, r = runHTTPBenchmark(*httpAddr, *nReq)
		report(*nReq, w, r)
	}
}

func report(n int, writes, reads time.Duration) {
	fmt.Printf("   inserts: %v | QPS: %s\n", writes, humanize.Comma(int64(float64(n)/writes.Seconds())))
	fmt.Printf("   lookups: %v | QPS: %s\n\n", reads, humanize.Comma(int64(float64(n)/reads.Seconds())))
}

// seedExpense spreads expenses over a year so by_date buckets hold several keys.
func seedExpense(i int, userID, accountID common.KeyType) *finance.Expense {
	return &finance.Expense{
		UserID:    userID,
		AccountID: accountID,
		Amount:    int64(100 + i%5000),
		Date:      finance.DateOf(2024, 1, 1) + finance.Date(i%365),
		Note:      "bench",
	}
}

func runEmbeddedBenchmark(n int, syncMode string) (time.Duration, time.Duration) {
	dir, err := os.MkdirTemp("", "ledger-bench-*")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	l, err := finance.Open(core.Options{
		Dir:      dir,
		SyncMode: syncMode,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer l.Close()

	u := &finance.User{Name: "bench", Email: "bench@example.com"}
	if err := l.CreateUser(u); err != nil {
		log.Fatalf("create user: %v", err)
	}
	a := &finance.Account{UserID: u.ID, Name: "main", Type: finance.Checking}
	if err := l.CreateAccount(a); err != nil {
		log.Fatalf("create account: %v", err)
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if err := l.CreateExpense(seedExpense(i, u.ID, a.ID)); err != nil {
			log.Fatalf("create expense: %v", err)
		}
	}
	writes := time.Since(start)

	start = time.Now()
	for i := 0; i < n; i++ {
		if _, err := l.ExpensesOnDate(u.ID, finance.DateOf(2024, 1, 1)+finance.Date(i%365)); err != nil {
			log.Fatalf("lookup: %v", err)
		}
	}
	return writes, time.Since(start)
}

func runHTTPBenchmark(base string, n int) (time.Duration, time.Duration) {
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 100,
		},
	}

	var u finance.User
	email := fmt.Sprintf("bench-%d@example.com", time.Now().UnixNano())
	post(client, base+"/api/users", finance.User{Name: "bench", Email: email}, &u)
	var a finance.Account
	post(client, base+"/api/accounts", finance.Account{UserID: u.ID, Name: "main", Type: finance.Checking}, &a)

	start := time.Now()
	for i := 0; i < n; i++ {
		post(client, base+"/api/expenses", seedExpense(i, u.ID, a.ID), nil)
	}
	writes := time.Since(start)

	start = time.Now()
	for i := 0; i < n; i++ {
		day := finance.DateOf(2024, 1, 1) + finance.Date(i%365)
		resp, err := client.Get(fmt.Sprintf("%s/api/users/%d/expenses?date=%s", base, u.ID, day))
		if err != nil {
			log.Fatalf("HTTP Req failed: %v", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return writes, time.Since(start)
}

func post(client *http.Client, url string, body, out any) {
	data, _ := json.Marshal(body)
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		log.Fatalf("HTTP Req failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		log.Fatalf("POST %s: %s: %s", url, resp.Status, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", url, err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
}

package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"ledgerdb/pkg/core"
	"ledgerdb/pkg/finance"
)

func TestREPL(t *testing.T) {
	l, err := finance.Open(core.Options{Dir: t.TempDir(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if err := l.CreateUser(&finance.User{Name: "Ann", Email: "ann@example.com"}); err != nil {
		t.Fatal(err)
	}

	script := strings.Join([]string{
		"tables",
		"get users 1",
		"get users 2",
		"lookup users by_email ANN@example.com",
		"range users 1 10",
		"get nope 1",
		"stats",
		"flush",
		"bogus",
		"exit",
		"tables",
	}, "\n")
	var out bytes.Buffer
	repl(l.Store(), strings.NewReader(script), &out)

	got := out.String()
	for _, want := range []string{
		"users",
		`"email":"ann@example.com"`,
		"(not found)",
		"(1 rows for hash",
		"(1 rows)",
		"Error: unknown table",
		"by_email",
		"Flushed",
		"Unknown command: 'bogus'",
		"Bye!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "indices:") != 7 {
		t.Errorf("commands after exit were run:\n%s", got)
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"ledgerdb/pkg/core"
	"ledgerdb/pkg/finance"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := finance.Open(core.Options{Dir: t.TempDir(), TreeOrder: 4, Logger: logger})
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return NewServer(l, logger)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestUserCRUDAndEmailLookup(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/users", map[string]string{"name": "Ann", "email": "ann@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	u := decodeBody[finance.User](t, rec)
	if u.ID != 1 || u.Currency != "USD" {
		t.Fatalf("created user %+v", u)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	rec = do(t, s, http.MethodPost, "/api/users", map[string]string{"name": "Ann 2", "email": "ANN@example.com"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate email: %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/users?email=Ann@Example.com", nil)
	if rec.Code != http.StatusOK || decodeBody[finance.User](t, rec).ID != u.ID {
		t.Fatalf("lookup by email: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodPut, "/api/users/1", map[string]string{"name": "Annie", "email": "annie@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, s, http.MethodGet, "/api/users/1", nil)
	if got := decodeBody[finance.User](t, rec); got.Name != "Annie" {
		t.Fatalf("get after update: %+v", got)
	}

	if rec := do(t, s, http.MethodDelete, "/api/users/1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/users/1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/users/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rec.Code)
	}
}

func TestExpenseLookupsAndSummary(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/users", map[string]string{"name": "Ann", "email": "ann@example.com"})
	do(t, s, http.MethodPost, "/api/accounts", map[string]any{"user_id": 1, "name": "Main", "type": "checking"})
	do(t, s, http.MethodPost, "/api/categories", map[string]any{"user_id": 1, "name": "Food"})

	for i, date := range []string{"2024-03-01", "2024-03-01", "2024-03-09", "2024-04-01"} {
		rec := do(t, s, http.MethodPost, "/api/expenses", map[string]any{
			"user_id": 1, "account_id": 1, "category_id": 1, "amount": 100 * (i + 1), "date": date,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create expense %d: %d %s", i, rec.Code, rec.Body)
		}
	}
	rec := do(t, s, http.MethodPost, "/api/expenses", map[string]any{
		"user_id": 1, "account_id": 1, "amount": 5, "date": "2024-31-01",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date accepted: %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/users/1/expenses?date=2024-03-01", nil)
	if got := decodeBody[[]finance.Expense](t, rec); len(got) != 2 {
		t.Fatalf("on date: %s", rec.Body)
	}
	rec = do(t, s, http.MethodGet, "/api/users/1/expenses?from=2024-03-02&to=2024-04-30", nil)
	if got := decodeBody[[]finance.Expense](t, rec); len(got) != 2 || got[0].Amount != 300 {
		t.Fatalf("between: %s", rec.Body)
	}
	rec = do(t, s, http.MethodGet, "/api/categories/1/expenses", nil)
	if got := decodeBody[[]finance.Expense](t, rec); len(got) != 4 {
		t.Fatalf("by category: %s", rec.Body)
	}

	rec = do(t, s, http.MethodGet, "/api/users/1/summary?year=2024&month=3", nil)
	sum := decodeBody[finance.MonthSummary](t, rec)
	if rec.Code != http.StatusOK || sum.Expenses != 600 || sum.ExpenseCount != 3 {
		t.Fatalf("summary: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, s, http.MethodGet, "/api/users/1/summary?year=2024&month=nope", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad month: %d", rec.Code)
	}

	do(t, s, http.MethodPost, "/api/budgets", map[string]any{"user_id": 1, "category_id": 1, "limit": 500, "year": 2024, "month": 3})
	rec = do(t, s, http.MethodGet, "/api/budgets/1/status", nil)
	st := decodeBody[finance.BudgetStatus](t, rec)
	if st.Spent != 600 || !st.Over {
		t.Fatalf("budget status: %s", rec.Body)
	}

	rec = do(t, s, http.MethodGet, "/api/accounts/1/balance", nil)
	if got := decodeBody[map[string]int64](t, rec); got["balance"] != -1000 {
		t.Fatalf("balance: %s", rec.Body)
	}
}

func TestStatsAndFlush(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/users", map[string]string{"name": "Ann", "email": "ann@example.com"})

	rec := do(t, s, http.MethodPost, "/api/flush", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("flush: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, s, http.MethodGet, "/api/stats", nil)
	st := decodeBody[core.StoreStats](t, rec)
	if len(st.Tables) != 7 {
		t.Fatalf("tables in stats: %d", len(st.Tables))
	}
	if st.Tables[0].Name != finance.UsersTable || st.Tables[0].Records != 1 {
		t.Fatalf("users stats: %+v", st.Tables[0])
	}
	if st.Workload.WriteCount == 0 || st.Workload.SnapshotWrites == 0 {
		t.Fatalf("workload not counted: %+v", st.Workload)
	}
	if st.ReadWrite <= 0 {
		t.Fatalf("read/write ratio %v", st.ReadWrite)
	}
	if rec := do(t, s, http.MethodDelete, "/api/stats", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method: %d", rec.Code)
	}
}

func TestTagRenameAndReferencedDeletes(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/users", map[string]string{"name": "Ann", "email": "ann@example.com"})
	do(t, s, http.MethodPost, "/api/accounts", map[string]any{"user_id": 1, "name": "Main", "type": "checking"})
	do(t, s, http.MethodPost, "/api/tags", map[string]any{"user_id": 1, "name": "trip"})
	do(t, s, http.MethodPost, "/api/tags", map[string]any{"user_id": 1, "name": "work"})

	rec := do(t, s, http.MethodPut, "/api/tags/1", map[string]any{"name": "holiday"})
	if rec.Code != http.StatusOK || decodeBody[finance.Tag](t, rec).UserID != 1 {
		t.Fatalf("rename: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, s, http.MethodPut, "/api/tags/1", map[string]any{"name": "Work"}); rec.Code != http.StatusConflict {
		t.Fatalf("rename onto existing name: %d", rec.Code)
	}

	do(t, s, http.MethodPost, "/api/expenses", map[string]any{"user_id": 1, "account_id": 1, "amount": 10, "date": "2024-03-01"})
	if rec := do(t, s, http.MethodDelete, "/api/accounts/1", nil); rec.Code != http.StatusConflict {
		t.Fatalf("delete used account: %d %s", rec.Code, rec.Body)
	}
	do(t, s, http.MethodDelete, "/api/expenses/1", nil)
	if rec := do(t, s, http.MethodDelete, "/api/accounts/1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete unused account: %d %s", rec.Code, rec.Body)
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ledgerdb/pkg/common"
	"ledgerdb/pkg/finance"
)

// Server exposes the ledger as a JSON API.
type Server struct {
	ledger *finance.Ledger
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(ledger *finance.Ledger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ledger: ledger, logger: logger, mux: http.NewServeMux()}

	registerCRUD(s, "users", crud[finance.User]{
		create: ledger.CreateUser, get: ledger.GetUser, update: ledger.UpdateUser, remove: ledger.DeleteUser,
		setID: func(u *finance.User, id common.KeyType) { u.ID = id },
	})
	registerCRUD(s, "categories", crud[finance.Category]{
		create: ledger.CreateCategory, get: ledger.GetCategory, update: ledger.UpdateCategory, remove: ledger.DeleteCategory,
		setID: func(c *finance.Category, id common.KeyType) { c.ID = id },
	})
	registerCRUD(s, "accounts", crud[finance.Account]{
		create: ledger.CreateAccount, get: ledger.GetAccount, update: ledger.UpdateAccount, remove: ledger.DeleteAccount,
		setID: func(a *finance.Account, id common.KeyType) { a.ID = id },
	})
	registerCRUD(s, "expenses", crud[finance.Expense]{
		create: ledger.CreateExpense, get: ledger.GetExpense, update: ledger.UpdateExpense, remove: ledger.DeleteExpense,
		setID: func(e *finance.Expense, id common.KeyType) { e.ID = id },
	})
	registerCRUD(s, "incomes", crud[finance.Income]{
		create: ledger.CreateIncome, get: ledger.GetIncome, update: ledger.UpdateIncome, remove: ledger.DeleteIncome,
		setID: func(in *finance.Income, id common.KeyType) { in.ID = id },
	})
	registerCRUD(s, "budgets", crud[finance.Budget]{
		create: ledger.CreateBudget, get: ledger.GetBudget, update: ledger.UpdateBudget, remove: ledger.DeleteBudget,
		setID: func(b *finance.Budget, id common.KeyType) { b.ID = id },
	})
	registerCRUD(s, "tags", crud[finance.Tag]{
		create: ledger.CreateTag, get: ledger.GetTag, update: ledger.UpdateTag, remove: ledger.DeleteTag,
		setID: func(t *finance.Tag, id common.KeyType) { t.ID = id },
	})

	s.mux.HandleFunc("GET /api/users", s.handleUserByEmail)
	s.mux.HandleFunc("GET /api/users/{id}/expenses", s.handleUserExpenses)
	s.mux.HandleFunc("GET /api/users/{id}/incomes", s.handleUserIncomes)
	s.mux.HandleFunc("GET /api/users/{id}/accounts", s.handleUserAccounts)
	s.mux.HandleFunc("GET /api/users/{id}/categories", byID(s, ledger.CategoriesByUser))
	s.mux.HandleFunc("GET /api/users/{id}/budgets", byID(s, ledger.BudgetsByUser))
	s.mux.HandleFunc("GET /api/users/{id}/tags", byID(s, ledger.TagsByUser))
	s.mux.HandleFunc("GET /api/users/{id}/summary", s.handleSummary)
	s.mux.HandleFunc("GET /api/tags/{id}/expenses", byID(s, ledger.ExpensesByTag))
	s.mux.HandleFunc("GET /api/categories/{id}/expenses", byID(s, ledger.ExpensesByCategory))
	s.mux.HandleFunc("GET /api/accounts/{id}/expenses", byID(s, ledger.ExpensesByAccount))
	s.mux.HandleFunc("GET /api/accounts/{id}/balance", byID(s, func(id common.KeyType) (map[string]int64, error) {
		b, err := ledger.AccountBalance(id)
		return map[string]int64{"balance": b}, err
	}))
	s.mux.HandleFunc("GET /api/budgets/{id}/status", byID(s, ledger.BudgetStatus))
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/flush", s.handleFlush)
	return s
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		s.mux.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, finance.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, finance.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, finance.ErrEmailTaken), errors.Is(err, finance.ErrTagExists), errors.Is(err, finance.ErrInUse):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (common.KeyType, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q", finance.ErrInvalid, r.PathValue("id"))
	}
	return common.KeyType(id), nil
}

func queryDate(r *http.Request, name string) (finance.Date, bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false, nil
	}
	d, err := finance.ParseDate(v)
	return d, true, err
}

func queryInt(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", finance.ErrInvalid, name)
	}
	return n, nil
}

type crud[T any] struct {
	create func(*T) error
	get    func(common.KeyType) (*T, error)
	update func(*T) error
	remove func(common.KeyType) error
	setID  func(*T, common.KeyType)
}

func registerCRUD[T any](s *Server, name string, c crud[T]) {
	s.mux.HandleFunc("POST /api/"+name, func(w http.ResponseWriter, r *http.Request) {
		var v T
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: body: %v", finance.ErrInvalid, err))
			return
		}
		if err := c.create(&v); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, &v)
	})
	s.mux.HandleFunc("GET /api/"+name+"/{id}", byID(s, c.get))
	if c.update != nil {
		s.mux.HandleFunc("PUT /api/"+name+"/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := pathID(r)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			var v T
			if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
				s.writeError(w, r, fmt.Errorf("%w: body: %v", finance.ErrInvalid, err))
				return
			}
			c.setID(&v, id)
			if err := c.update(&v); err != nil {
				s.writeError(w, r, err)
				return
			}
			s.writeJSON(w, http.StatusOK, &v)
		})
	}
	s.mux.HandleFunc("DELETE /api/"+name+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err == nil {
			err = c.remove(id)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// byID adapts a lookup keyed by the {id} path value to a handler.
func byID[R any](s *Server, fn func(common.KeyType) (R, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		res, err := fn(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleUserByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		users, err := s.ledger.Users()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, users)
		return
	}
	u, err := s.ledger.UserByEmail(email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, u)
}

// handleUserExpenses serves ?date=D, ?from=D&to=D or everything.
func (s *Server) handleUserExpenses(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	date, hasDate, err := queryDate(r, "date")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, hasFrom, err := queryDate(r, "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, hasTo, err := queryDate(r, "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var res []*finance.Expense
	switch {
	case hasDate:
		res, err = s.ledger.ExpensesOnDate(id, date)
	case hasFrom || hasTo:
		if !hasTo {
			to = finance.Date(1<<31 - 1)
		}
		res, err = s.ledger.ExpensesBetween(id, from, to)
	default:
		res, err = s.ledger.ExpensesByUser(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUserIncomes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	date, hasDate, err := queryDate(r, "date")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var res []*finance.Income
	if hasDate {
		res, err = s.ledger.IncomesOnDate(id, date)
	} else {
		res, err = s.ledger.IncomesByUser(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUserAccounts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var res []*finance.Account
	if t := r.URL.Query().Get("type"); t != "" {
		res, err = s.ledger.AccountsByType(id, finance.AccountType(t))
	} else {
		res, err = s.ledger.AccountsByUser(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	year, err := queryInt(r, "year")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	month, err := queryInt(r, "month")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.ledger.MonthSummary(id, year, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ledger.Store().Stats())
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Store().Flush(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

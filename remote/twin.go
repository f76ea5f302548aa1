package remote

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/rewards"
)

// =============================================================================
// TWIN - In-memory remote ledger service (for local runs and tests)
// =============================================================================

// Twin behaves like the remote ledger and catalog services. It keeps each
// user's confirmed transactions newest first and answers the client routes
// from memory.
type Twin struct {
	mu       sync.Mutex
	accounts map[string]*account
	faults   map[string]int // route name -> status to answer with
	catalog  *rewards.Static
	now      func() time.Time
	log      *slog.Logger
}

type account struct {
	opening  int64
	txs      []points.Transaction // newest first
	triggers int
}

func (a *account) balance() int64 {
	b := a.opening
	for _, tx := range a.txs {
		b += tx.Amount
	}
	return b
}

// Route names accepted by Fail.
const (
	RouteBalance      = "balance"
	RouteTransactions = "transactions"
	RouteReconcile    = "reconcile"
	RouteReward       = "reward"
	RouteRecord       = "record"
)

type TwinOption func(*Twin)

func WithTwinClock(now func() time.Time) TwinOption {
	return func(t *Twin) { t.now = now }
}

func WithTwinCatalog(c *rewards.Static) TwinOption {
	return func(t *Twin) { t.catalog = c }
}

func WithTwinLogger(l *slog.Logger) TwinOption {
	return func(t *Twin) { t.log = l }
}

func NewTwin(opts ...TwinOption) *Twin {
	t := &Twin{
		accounts: make(map[string]*account),
		faults:   make(map[string]int),
		catalog:  rewards.DefaultCatalog(),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Twin) accountLocked(userID string) *account {
	a, ok := t.accounts[userID]
	if !ok {
		a = &account{}
		t.accounts[userID] = a
	}
	return a
}

// Seed sets a user's balance carried from before the twin's history.
func (t *Twin) Seed(userID string, opening int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accountLocked(userID).opening = opening
}

// Record confirms an action on the server side and returns the stored record.
func (t *Twin) Record(userID string, req RecordRequest) points.Transaction {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := points.Transaction{
		ID:           points.TransactionID(uuid.NewString()),
		Amount:       req.Amount,
		Kind:         points.Kind(req.Kind),
		Source:       points.Source(req.Source),
		Description:  req.Description,
		EventID:      req.EventID,
		ActivationID: req.ActivationID,
		CreatedAt:    t.now(),
		IsReconciled: true,
	}
	a := t.accountLocked(userID)
	a.txs = append([]points.Transaction{tx}, a.txs...)
	return tx
}

func (t *Twin) Balance(userID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accountLocked(userID).balance()
}

// Triggers reports how many reconcile triggers the user has sent.
func (t *Twin) Triggers(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accountLocked(userID).triggers
}

// Fail makes every request to route answer with status until ClearFaults.
func (t *Twin) Fail(route string, status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults[route] = status
}

func (t *Twin) ClearFaults() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.faults)
}

func (t *Twin) Catalog() *rewards.Static { return t.catalog }

// =============================================================================
// ROUTES
// =============================================================================

// Handler returns the twin's HTTP surface.
func (t *Twin) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	t.Routes(r)
	return r
}

// Routes mounts the service endpoints.
func (t *Twin) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Route("/users/{user}", func(r chi.Router) {
			r.With(t.fault(RouteBalance)).Get("/balance", t.getBalance)
			r.With(t.fault(RouteTransactions)).Get("/transactions", t.getTransactions)
			r.With(t.fault(RouteRecord)).Post("/transactions", t.postTransaction)
			r.With(t.fault(RouteReconcile)).Post("/reconcile", t.postReconcile)
		})
		r.With(t.fault(RouteReward)).Get("/rewards/{id}", t.getReward)
	})
}

func (t *Twin) fault(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.mu.Lock()
			status, ok := t.faults[route]
			t.mu.Unlock()
			if ok {
				twinError(w, status, "injected fault")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (t *Twin) getBalance(w http.ResponseWriter, r *http.Request) {
	twinJSON(w, http.StatusOK, balanceResponse{Balance: t.Balance(chi.URLParam(r, "user"))})
}

func (t *Twin) getTransactions(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		twinError(w, http.StatusBadRequest, "invalid page")
		return
	}
	size, err := queryInt(r, "page_size", points.DefaultPageSize)
	if err != nil || size < 1 || size > points.MaxPageSize {
		twinError(w, http.StatusBadRequest, "invalid page_size")
		return
	}

	t.mu.Lock()
	txs := t.accountLocked(chi.URLParam(r, "user")).txs
	start := min((page-1)*size, len(txs))
	end := min(start+size, len(txs))
	resp := transactionsResponse{
		Items:   make([]transactionDTO, 0, end-start),
		HasMore: end < len(txs),
	}
	for _, tx := range txs[start:end] {
		resp.Items = append(resp.Items, fromTransaction(tx))
	}
	t.mu.Unlock()

	twinJSON(w, http.StatusOK, resp)
}

func (t *Twin) postTransaction(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		twinError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Amount == 0 || !points.Kind(req.Kind).Valid() || !points.Source(req.Source).Valid() {
		twinError(w, http.StatusUnprocessableEntity, "amount, kind and source are required")
		return
	}
	tx := t.Record(chi.URLParam(r, "user"), req)
	twinJSON(w, http.StatusCreated, fromTransaction(tx))
}

func (t *Twin) postReconcile(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	t.mu.Lock()
	t.accountLocked(user).triggers++
	t.mu.Unlock()
	t.log.Debug("twin reconcile triggered", "user_id", user)
	w.WriteHeader(http.StatusAccepted)
}

func (t *Twin) getReward(w http.ResponseWriter, r *http.Request) {
	reward, err := t.catalog.GetReward(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		twinError(w, http.StatusNotFound, "reward not found")
		return
	}
	twinJSON(w, http.StatusOK, rewardResponse{
		ID:          reward.ID,
		Name:        reward.Name,
		Description: reward.Description,
		Cost:        reward.Cost,
		Category:    string(reward.Category),
		InStock:     reward.InStock,
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func twinJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func twinError(w http.ResponseWriter, status int, message string) {
	twinJSON(w, status, errorResponse{Error: message})
}

package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"pharmapro/backend/internal/domain"
	"pharmapro/backend/internal/report"
	"pharmapro/backend/internal/service"
	"pharmapro/backend/internal/store"
)

var validate = validator.New()

type API struct {
	service       *service.Service
	reports       *report.Engine
	auth          *AuthManager
	logger        *logrus.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, reports *report.Engine, auth *AuthManager, logger *logrus.Logger, allowedOrigin string) *API {
	if logger == nil {
		logger = logrus.New()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		reports:       reports,
		auth:          auth,
		logger:        logger,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/items", a.requireAuth(a.handleItems, "cashier", "admin"))
	mux.HandleFunc("/api/v1/items/", a.requireAuth(a.handleItemActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/returns", a.requireAuth(a.handleReturns, "cashier", "admin"))

	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, "admin"))
	mux.HandleFunc("/api/v1/batches", a.requireAuth(a.handleBatches, "admin"))
	mux.HandleFunc("/api/v1/batches/", a.requireAuth(a.handleBatchActions, "admin"))
	mux.HandleFunc("/api/v1/reports/low-stock", a.requireAuth(a.handleLowStock, "admin"))
	mux.HandleFunc("/api/v1/reports/expiring", a.requireAuth(a.handleExpiring, "admin"))
	mux.HandleFunc("/api/v1/reports/dashboard", a.requireAuth(a.handleDashboard, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation. Login is
// excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods (POST/PUT/PATCH).
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.service.ListItems(r.Context())
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		actor, ok := service.ActorFromContext(r.Context())
		if !ok || actor.Role != "admin" {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		item, err := a.service.CreateItem(r.Context(), req)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleItemActions routes /api/v1/items/{name}/availability, {name}/stock,
// and {name}/batches. Item names may contain spaces, so the name is the full
// path segment before the action suffix.
func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/items/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("item name required"))
		return
	}

	name, action, found := strings.Cut(tail, "/")
	if !found {
		writeError(w, http.StatusBadRequest, errors.New("item action required"))
		return
	}

	switch action {
	case "availability":
		resp, err := a.service.Availability(r.Context(), name)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case "stock":
		stock, err := a.service.GetItemStock(r.Context(), name)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stock)
	case "batches":
		batches, err := a.service.ListBatches(r.Context(), name)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown item action"))
	}
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	from, err := parseDateParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseDateParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)

	sales, err := a.service.ListSales(r.Context(), from, to, limit)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	prefix := "/api/v1/sales/"
	saleID := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if saleID == "" {
		writeError(w, http.StatusBadRequest, errors.New("sale id required"))
		return
	}

	sale, err := a.service.GetSale(r.Context(), saleID)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	batch, err := a.service.Return(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

// handleUsers creates staff accounts. Duplicate usernames surface as 400 via
// store.ErrInvalidInput.
func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.auth.CreateUser(r.Context(), req); err != nil {
		a.writeDomainError(w, err)
		return
	}

	a.logger.WithFields(logrus.Fields{
		"username": req.Username,
		"role":     req.Role,
	}).Info("user created")
	writeJSON(w, http.StatusCreated, map[string]any{
		"username": strings.ToLower(strings.TrimSpace(req.Username)),
		"role":     req.Role,
	})
}

func (a *API) handleBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ReceiveBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	batch, err := a.service.ReceiveBatch(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"batch": batch})
}

// handleBatchActions routes /api/v1/batches/{id}/adjust (POST) and
// /api/v1/batches/{id}/movements (GET).
func (a *API) handleBatchActions(w http.ResponseWriter, r *http.Request) {
	prefix := "/api/v1/batches/"
	tail := strings.TrimSpace(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if tail == "" {
		writeError(w, http.StatusBadRequest, errors.New("batch id required"))
		return
	}

	batchID, action, found := strings.Cut(tail, "/")
	if !found || batchID == "" {
		writeError(w, http.StatusBadRequest, errors.New("batch action required"))
		return
	}

	switch action {
	case "adjust":
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.AdjustBatchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req.BatchID = batchID
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		batch, err := a.service.AdjustBatch(r.Context(), req)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
	case "movements":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
		movements, err := a.service.Movements(r.Context(), batchID, limit)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown batch action"))
	}
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	entries, err := a.reports.LowStock(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"low_stock": entries})
}

func (a *API) handleExpiring(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	batches, err := a.reports.ExpiringSoon(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expiring": batches})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	metrics, err := a.reports.Dashboard(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(startedAt).String(),
		}).Info("request")
	})
}

// writeDomainError maps service and store errors onto HTTP statuses. Stock
// shortfalls and concurrent batch changes are both 409: the client should
// refresh availability and retry.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *store.InsufficientStockError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     insufficient.Error(),
			"item":      insufficient.Item,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
		return
	}
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    conflict.Error(),
			"batch_id": conflict.BatchID,
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case strings.Contains(strings.ToLower(err.Error()), "admin role required"):
		writeError(w, http.StatusForbidden, err)
	default:
		a.logger.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parseDateParam(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.DateOnly, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want yyyy-mm-dd", trimmed)
	}
	return parsed.UTC(), nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

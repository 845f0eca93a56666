package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/charleschow/betting-service/internal/core/admission"
	"github.com/charleschow/betting-service/internal/core/betting"
	"github.com/charleschow/betting-service/internal/core/leaderboard"
	"github.com/charleschow/betting-service/internal/core/session"
	"github.com/charleschow/betting-service/internal/telemetry"
)

const (
	contentType = "text/plain; charset=utf-8"

	// A stake body is one decimal int32; anything longer is malformed.
	maxStakeBody = 64

	msgShuttingDown  = "Service Unavailable - Server is shutting down"
	msgOverloaded    = "Service Unavailable - Server is overloaded"
	msgInternal      = "Internal server error"
	msgAuthFailed    = "Authentication failed"
	msgBadCustomerID = "Invalid customer ID format"
	msgBadBetID      = "Invalid bet ID format"
)

// Admitter runs work on a bounded pool, rejecting it when the pool is
// saturated or shutting down. Satisfied by *admission.Controller.
type Admitter interface {
	Run(work admission.Work) error
}

// Handler dispatches betting requests. Each request is executed on an
// admission worker; rejected requests get a 503 immediately.
//
// Routes:
//
//	GET  /{customerId}/session            -> session key
//	POST /{betId}/stake?sessionkey=KEY    -> body is the amount, empty 200
//	GET  /{betId}/highstakes              -> "cust=amount,..." highest first
//	GET  /health                          -> 200 OK (not admitted)
type Handler struct {
	svc  *betting.Service
	pool Admitter
}

func NewHandler(svc *betting.Service, pool Admitter) *Handler {
	return &Handler{svc: svc, pool: pool}
}

// RegisterRoutes wires HTTP routes onto the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/{customerId}/session", h.admit(h.session))
	mux.HandleFunc("/{betId}/stake", h.admit(h.stake))
	mux.HandleFunc("/{betId}/highstakes", h.admit(h.highStakes))
	mux.HandleFunc("GET /health", h.healthCheck)
	mux.HandleFunc("/", h.notFound)
}

// admit runs next on the admission pool and blocks until it finishes, so
// w stays valid for the worker.
func (h *Handler) admit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		err := h.pool.Run(func() { h.serveSafely(next, w, r) })
		switch {
		case err == nil:
			telemetry.Metrics.RequestLatency.Record(time.Since(start))
		case errors.Is(err, admission.ErrShuttingDown):
			writeText(w, http.StatusServiceUnavailable, msgShuttingDown)
		case errors.Is(err, admission.ErrOverloaded):
			writeText(w, http.StatusServiceUnavailable, msgOverloaded)
		default:
			telemetry.Errorf("httpapi: admission failed for %s: %v", r.URL.Path, err)
			writeText(w, http.StatusServiceUnavailable, msgOverloaded)
		}
	}
}

// serveSafely turns a panic in one request into a 500 so the worker and
// shared state stay usable for everyone else.
func (h *Handler) serveSafely(next http.HandlerFunc, w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Metrics.WorkPanics.Inc()
			telemetry.Errorf("httpapi: panic serving %s: %v\n%s", r.URL.Path, rec, debug.Stack())
			writeText(w, http.StatusInternalServerError, msgInternal)
		}
	}()
	next(w, r)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	customerID, err := parseID(r.PathValue("customerId"))
	if err != nil {
		badRequest(w, msgBadCustomerID)
		return
	}

	key, err := h.svc.Session(customerID)
	switch {
	case err == nil:
		writeText(w, http.StatusOK, key)
	case errors.Is(err, session.ErrInvalidCustomer):
		badRequest(w, msgBadCustomerID)
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) stake(w http.ResponseWriter, r *http.Request) {
	betID, err := parseID(r.PathValue("betId"))
	if err != nil {
		badRequest(w, "Invalid request: "+msgBadBetID)
		return
	}

	sessionKey := r.URL.Query().Get("sessionkey")
	if sessionKey == "" {
		badRequest(w, "Invalid request: missing session key")
		return
	}

	amount, err := readAmount(r.Body)
	if err != nil {
		badRequest(w, "Invalid request: "+err.Error())
		return
	}

	err = h.svc.PlaceStake(betID, sessionKey, amount)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
		telemetry.Debugf("httpapi: rejected session key for bet %d: %v", betID, err)
		writeText(w, http.StatusUnauthorized, msgAuthFailed)
	case errors.Is(err, leaderboard.ErrInvalidEvent),
		errors.Is(err, leaderboard.ErrInvalidCustomer),
		errors.Is(err, leaderboard.ErrInvalidAmount),
		errors.Is(err, betting.ErrMissingSessionKey):
		badRequest(w, "Invalid request: "+err.Error())
	default:
		h.internalError(w, r, err)
	}
}

func (h *Handler) highStakes(w http.ResponseWriter, r *http.Request) {
	betID, err := parseID(r.PathValue("betId"))
	if err != nil {
		badRequest(w, msgBadBetID)
		return
	}

	top, ok, err := h.svc.HighStakes(betID)
	switch {
	case err != nil && errors.Is(err, leaderboard.ErrInvalidEvent):
		badRequest(w, msgBadBetID)
	case err != nil:
		h.internalError(w, r, err)
	case !ok:
		writeText(w, http.StatusOK, fmt.Sprintf("No stakes for bet ID: %d", betID))
	default:
		writeText(w, http.StatusOK, FormatHighStakes(top))
	}
}

func (h *Handler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"betting"}`))
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusNotFound, "Not Found - Resource does not exist: "+r.URL.Path)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	telemetry.Errorf("httpapi: %s %s: %v", r.Method, r.URL.Path, err)
	writeText(w, http.StatusInternalServerError, msgInternal)
}

// FormatHighStakes renders entries as "customerId=amount" pairs joined by
// commas, in the order given.
func FormatHighStakes(entries []leaderboard.Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(e.CustomerID))
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(e.Amount))
	}
	return b.String()
}

// parseID accepts a non-negative decimal that fits in an int32.
func parseID(raw string) (int, error) {
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative id %d", n)
	}
	return int(n), nil
}

func readAmount(body io.Reader) (int, error) {
	if body == nil {
		return 0, errors.New("missing stake amount")
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxStakeBody+1))
	if err != nil {
		return 0, fmt.Errorf("read stake amount: %w", err)
	}
	if len(raw) > maxStakeBody {
		return 0, errors.New("stake amount too long")
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, errors.New("missing stake amount")
	}
	n, err := strconv.ParseInt(text, 10, 32)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid stake amount format")
	}
	return int(n), nil
}

func badRequest(w http.ResponseWriter, msg string) {
	telemetry.Metrics.BadRequests.Inc()
	writeText(w, http.StatusBadRequest, msg)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if body != "" {
		io.WriteString(w, body)
	}
}

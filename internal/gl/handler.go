package gl

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/auth"
	"github.com/meridian-erp/meridian-erp/internal/fiscal"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes GL reports over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the reporting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers GL report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermGLView))
		r.Get("/accounts/{id}", h.accountLedger)
		r.Get("/trial-balance", h.trialBalance)
	})
}

func (h *Handler) accountLedger(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || accountID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid account id")
		return
	}
	from, to, err := reportWindow(r)
	if err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidRange, "Bad Request", err.Error(), nil)
		return
	}

	result, err := h.service.AccountLedger(r.Context(), identity.Scope(), accountID, from, to)
	if err != nil {
		h.respondError(w, "account ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	from, to, err := reportWindow(r)
	if err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidRange, "Bad Request", err.Error(), nil)
		return
	}

	result, err := h.service.TrialBalance(r.Context(), identity.Scope(), from, to)
	if err != nil {
		h.respondError(w, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// reportWindow parses the from/to query params, defaulting to the current
// month when both are absent.
func reportWindow(r *http.Request) (time.Time, time.Time, error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr == "" && toStr == "" {
		now := time.Now().UTC()
		from, to := fiscal.MonthWindow(now.Year(), now.Month())
		return from, to, nil
	}
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("from must be YYYY-MM-DD")
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("to must be YYYY-MM-DD")
	}
	return from, to, nil
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRange):
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidRange, "Bad Request", err.Error(), nil)
	case errors.Is(err, ErrAccountNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeAccountNotFound, "Not Found", err.Error(), nil)
	default:
		ledger.RespondError(w, h.logger, op, err)
	}
}

package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/auth"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes journal entry operations over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers journal entry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermLedgerView))
		r.Get("/entries", h.listEntries)
		r.Get("/entries/{id}", h.getEntry)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermLedgerEntryCreate))
		r.Post("/entries", h.createEntry)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermLedgerEntryPost))
		r.Post("/entries/{id}/approve", h.approveEntry)
		r.Post("/entries/{id}/post", h.postEntry)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermLedgerEntryCancel))
		r.Post("/entries/{id}/cancel", h.cancelEntry)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermLedgerEntryReverse))
		r.Post("/entries/{id}/reverse", h.reverseEntry)
	})
}

type lineRequest struct {
	AccountID    int64  `json:"account_id" validate:"required,gt=0"`
	CostCenterID *int64 `json:"cost_center_id"`
	Debit        string `json:"debit"`
	Credit       string `json:"credit"`
	DebitFC      string `json:"debit_fc"`
	CreditFC     string `json:"credit_fc"`
	Memo         string `json:"memo"`
}

type createEntryRequest struct {
	EntryDate       string        `json:"entry_date" validate:"required"`
	Currency        string        `json:"currency" validate:"required,len=3"`
	ExchangeRate    string        `json:"exchange_rate"`
	Description     string        `json:"description"`
	PostImmediately bool          `json:"post_immediately"`
	Lines           []lineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidEntry, "Bad Request", "invalid JSON body", nil)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidEntry, "Bad Request", err.Error(), nil)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidEntry, "Bad Request", err.Error(), nil)
		return
	}

	entry, err := h.service.CreateEntry(r.Context(), identity.Scope(), input)
	if err != nil {
		h.respondError(w, "create entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (req createEntryRequest) toInput() (EntryInput, error) {
	date, err := time.Parse("2006-01-02", req.EntryDate)
	if err != nil {
		return EntryInput{}, errors.New("entry_date must be YYYY-MM-DD")
	}
	rate := decimal.NewFromInt(1)
	if req.ExchangeRate != "" {
		rate, err = decimal.NewFromString(req.ExchangeRate)
		if err != nil {
			return EntryInput{}, errors.New("exchange_rate must be numeric")
		}
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, lr := range req.Lines {
		debit, err := parseAmount(lr.Debit)
		if err != nil {
			return EntryInput{}, errors.New("debit must be numeric")
		}
		credit, err := parseAmount(lr.Credit)
		if err != nil {
			return EntryInput{}, errors.New("credit must be numeric")
		}
		debitFC, err := parseOptionalAmount(lr.DebitFC)
		if err != nil {
			return EntryInput{}, errors.New("debit_fc must be numeric")
		}
		creditFC, err := parseOptionalAmount(lr.CreditFC)
		if err != nil {
			return EntryInput{}, errors.New("credit_fc must be numeric")
		}
		lines = append(lines, LineInput{
			AccountID:    lr.AccountID,
			CostCenterID: lr.CostCenterID,
			Debit:        debit,
			Credit:       credit,
			DebitFC:      debitFC,
			CreditFC:     creditFC,
			Memo:         lr.Memo,
		})
	}
	return EntryInput{
		EntryDate:       date,
		EntryType:       TypeManual,
		Currency:        req.Currency,
		ExchangeRate:    rate,
		Description:     req.Description,
		PostImmediately: req.PostImmediately,
		Lines:           lines,
	}, nil
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	filter, err := parseEntryFilter(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entries, paging, err := h.service.ListEntries(r.Context(), identity.Scope(), filter)
	if err != nil {
		h.respondError(w, "list entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries, "pagination": paging})
}

func parseEntryFilter(r *http.Request) (EntryFilter, error) {
	q := r.URL.Query()
	filter := EntryFilter{
		Status:    EntryStatus(q.Get("status")),
		EntryType: EntryType(q.Get("type")),
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return EntryFilter{}, errors.New("from must be YYYY-MM-DD")
		}
		filter.DateFrom = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return EntryFilter{}, errors.New("to must be YYYY-MM-DD")
		}
		filter.DateTo = to
	}
	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return EntryFilter{}, errors.New("page must be a positive integer")
		}
		filter.Page = page
	}
	if v := q.Get("per_page"); v != "" {
		perPage, err := strconv.Atoi(v)
		if err != nil || perPage <= 0 {
			return EntryFilter{}, errors.New("per_page must be a positive integer")
		}
		filter.PerPage = shared.ClampPerPage(perPage, 100)
	}
	return filter, nil
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, err := entryID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entry, lines, err := h.service.GetEntry(r.Context(), identity.Scope(), id)
	if err != nil {
		h.respondError(w, "get entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry": entry, "lines": lines})
}

func (h *Handler) approveEntry(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, err := entryID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.service.ApproveEntry(r.Context(), identity.Scope(), id); err != nil {
		h.respondError(w, "approve entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": StatusApproved})
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, err := entryID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if err := h.service.PostEntry(r.Context(), identity.Scope(), id); err != nil {
		h.respondError(w, "post entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": StatusPosted})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelEntry(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, err := entryID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req cancelRequest
	_ = httpx.DecodeJSON(r, &req)
	if err := h.service.CancelEntry(r.Context(), identity.Scope(), id, req.Reason); err != nil {
		h.respondError(w, "cancel entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": StatusCancelled})
}

type reverseRequest struct {
	ReversalDate string `json:"reversal_date" validate:"required"`
	Reason       string `json:"reason" validate:"required"`
}

func (h *Handler) reverseEntry(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	id, err := entryID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.Reason == "" {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeMissingReason, "Bad Request", "reversal reason required", nil)
		return
	}
	date, err := time.Parse("2006-01-02", req.ReversalDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "reversal_date must be YYYY-MM-DD")
		return
	}
	reversal, err := h.service.ReverseEntry(r.Context(), identity.Scope(), id, date, req.Reason)
	if err != nil {
		h.respondError(w, "reverse entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reversal)
}

func entryID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid entry id")
	}
	return id, nil
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	RespondError(w, h.logger, op, err)
}

// RespondError maps ledger errors onto problem responses. Adapter handlers
// fall back to it so every posting path reports the same codes.
func RespondError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var unbalanced *UnbalancedError
	var config *ConfigError
	switch {
	case errors.As(err, &unbalanced):
		httpx.ProblemCode(w, http.StatusBadRequest, CodeUnbalanced, "Unbalanced Entry", unbalanced.Error(), map[string]any{
			"total_debit":  unbalanced.TotalDebit.String(),
			"total_credit": unbalanced.TotalCredit.String(),
			"currency":     unbalanced.Currency,
		})
	case errors.As(err, &config):
		httpx.ProblemCode(w, http.StatusUnprocessableEntity, CodeMissingAccountConfig, "Missing Account Configuration", config.Error(), map[string]any{
			"entity": config.Entity,
			"field":  config.Field,
		})
	case errors.Is(err, ErrInvalidEntry):
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidEntry, "Invalid Entry", err.Error(), nil)
	case errors.Is(err, ErrMissingReason):
		httpx.ProblemCode(w, http.StatusBadRequest, CodeMissingReason, "Bad Request", err.Error(), nil)
	case errors.Is(err, ErrEntryNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, ErrNoOpenPeriod):
		httpx.ProblemCode(w, http.StatusConflict, CodeNoOpenPeriod, "No Open Period", err.Error(), nil)
	case errors.Is(err, ErrPeriodClosed):
		httpx.ProblemCode(w, http.StatusConflict, CodePeriodClosed, "Period Not Open", err.Error(), nil)
	case errors.Is(err, ErrAlreadyPosted):
		httpx.ProblemCode(w, http.StatusConflict, CodeAlreadyPosted, "Already Posted", err.Error(), nil)
	case errors.Is(err, ErrCannotPostCancelled):
		httpx.ProblemCode(w, http.StatusConflict, CodeCannotPostCancelled, "Cannot Post Cancelled", err.Error(), nil)
	case errors.Is(err, ErrCannotCancel):
		httpx.ProblemCode(w, http.StatusConflict, CodeCannotCancel, "Cannot Cancel", err.Error(), nil)
	case errors.Is(err, ErrCannotApprove):
		httpx.ProblemCode(w, http.StatusConflict, CodeCannotApprove, "Cannot Approve", err.Error(), nil)
	case errors.Is(err, ErrNotPosted):
		httpx.ProblemCode(w, http.StatusConflict, CodeNotPosted, "Not Posted", err.Error(), nil)
	case errors.Is(err, ErrAlreadyReversed):
		httpx.ProblemCode(w, http.StatusConflict, CodeAlreadyReversed, "Already Reversed", err.Error(), nil)
	case errors.Is(err, ErrReversalNotReversible):
		httpx.ProblemCode(w, http.StatusConflict, CodeReversalNotReversible, "Reversal Not Reversible", err.Error(), nil)
	case errors.Is(err, ErrSourceAlreadyPosted):
		httpx.ProblemCode(w, http.StatusConflict, CodeSourceAlreadyPosted, "Source Already Posted", err.Error(), nil)
	case errors.Is(err, ErrStatusConflict):
		httpx.ProblemCode(w, http.StatusConflict, CodeConflict, "Conflict", err.Error(), nil)
	default:
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseOptionalAmount(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

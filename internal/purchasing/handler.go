package purchasing

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
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes purchasing postings over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the purchasing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermPurchasingPost))
		r.Post("/invoices", h.postInvoice)
		r.Post("/returns", h.postReturn)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermGLView))
		r.Get("/vendors/{id}/ledger", h.vendorLedger)
	})
}

type docLineRequest struct {
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Qty      string `json:"qty" validate:"required"`
	UnitCost string `json:"unit_cost" validate:"required"`
}

type invoiceRequest struct {
	VendorID     int64            `json:"vendor_id" validate:"required,gt=0"`
	DocDate      string           `json:"doc_date" validate:"required"`
	Currency     string           `json:"currency" validate:"required,len=3"`
	ExchangeRate string           `json:"exchange_rate"`
	TaxAmount    string           `json:"tax_amount"`
	TaxAccountID *int64           `json:"tax_account_id"`
	Ref          string           `json:"ref"`
	Memo         string           `json:"memo"`
	Lines        []docLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req invoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidDocument, "Bad Request", "invalid JSON body", nil)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidDocument, "Bad Request", err.Error(), nil)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidDocument, "Bad Request", err.Error(), nil)
		return
	}

	invoice, entry, err := h.service.PostInvoice(r.Context(), identity.Scope(), input)
	if err != nil {
		h.respondError(w, "post invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"invoice": invoice, "entry": entry})
}

func (req invoiceRequest) toInput() (InvoiceInput, error) {
	date, err := time.Parse("2006-01-02", req.DocDate)
	if err != nil {
		return InvoiceInput{}, errors.New("doc_date must be YYYY-MM-DD")
	}
	rate, err := parseRate(req.ExchangeRate)
	if err != nil {
		return InvoiceInput{}, err
	}
	tax := decimal.Zero
	if req.TaxAmount != "" {
		tax, err = decimal.NewFromString(req.TaxAmount)
		if err != nil {
			return InvoiceInput{}, errors.New("tax_amount must be numeric")
		}
	}
	lines := make([]InvoiceLineInput, 0, len(req.Lines))
	for _, lr := range req.Lines {
		qty, unitCost, err := lr.amounts()
		if err != nil {
			return InvoiceInput{}, err
		}
		lines = append(lines, InvoiceLineInput{ItemID: lr.ItemID, Qty: qty, UnitCost: unitCost})
	}
	return InvoiceInput{
		VendorID:     req.VendorID,
		DocDate:      date,
		Currency:     req.Currency,
		ExchangeRate: rate,
		TaxAmount:    tax,
		TaxAccountID: req.TaxAccountID,
		Ref:          req.Ref,
		Memo:         req.Memo,
		Lines:        lines,
	}, nil
}

type returnRequest struct {
	VendorID     int64            `json:"vendor_id" validate:"required,gt=0"`
	DocDate      string           `json:"doc_date" validate:"required"`
	Currency     string           `json:"currency" validate:"required,len=3"`
	ExchangeRate string           `json:"exchange_rate"`
	Ref          string           `json:"ref"`
	Memo         string           `json:"memo"`
	Lines        []docLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) postReturn(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidDocument, "Bad Request", "invalid JSON body", nil)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidDocument, "Bad Request", err.Error(), nil)
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidDocument, "Bad Request", err.Error(), nil)
		return
	}

	ret, entry, err := h.service.PostReturn(r.Context(), identity.Scope(), input)
	if err != nil {
		h.respondError(w, "post return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"return": ret, "entry": entry})
}

func (req returnRequest) toInput() (ReturnInput, error) {
	date, err := time.Parse("2006-01-02", req.DocDate)
	if err != nil {
		return ReturnInput{}, errors.New("doc_date must be YYYY-MM-DD")
	}
	rate, err := parseRate(req.ExchangeRate)
	if err != nil {
		return ReturnInput{}, err
	}
	lines := make([]ReturnLineInput, 0, len(req.Lines))
	for _, lr := range req.Lines {
		qty, unitCost, err := lr.amounts()
		if err != nil {
			return ReturnInput{}, err
		}
		lines = append(lines, ReturnLineInput{ItemID: lr.ItemID, Qty: qty, UnitCost: unitCost})
	}
	return ReturnInput{
		VendorID:     req.VendorID,
		DocDate:      date,
		Currency:     req.Currency,
		ExchangeRate: rate,
		Ref:          req.Ref,
		Memo:         req.Memo,
		Lines:        lines,
	}, nil
}

func (lr docLineRequest) amounts() (qty, unitCost decimal.Decimal, err error) {
	qty, err = decimal.NewFromString(lr.Qty)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, errors.New("qty must be numeric")
	}
	unitCost, err = decimal.NewFromString(lr.UnitCost)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, errors.New("unit_cost must be numeric")
	}
	return qty, unitCost, nil
}

func parseRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.NewFromInt(1), nil
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.New("exchange_rate must be numeric")
	}
	return rate, nil
}

func (h *Handler) vendorLedger(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	vendorID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || vendorID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid vendor id")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	perPage = shared.ClampPerPage(perPage, 100)

	rows, paging, err := h.service.VendorLedger(r.Context(), identity.Scope(), vendorID, page, perPage)
	if err != nil {
		h.respondError(w, "vendor ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": rows, "pagination": paging})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidDocument):
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidDocument, "Invalid Document", err.Error(), nil)
	case errors.Is(err, ErrVendorNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeVendorNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, ErrItemNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeItemNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, ErrInvoiceNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeInvoiceNotFound, "Not Found", err.Error(), nil)
	default:
		ledger.RespondError(w, h.logger, op, err)
	}
}

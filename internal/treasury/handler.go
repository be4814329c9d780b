package treasury

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/auth"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes treasury postings over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds the treasury handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers treasury routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermTreasuryPost))
		r.Post("/payments", h.postPayment)
		r.Post("/deposits", h.postDeposit)
	})
}

type paymentRequest struct {
	VendorID      int64  `json:"vendor_id" validate:"required,gt=0"`
	PayDate       string `json:"pay_date" validate:"required"`
	Method        string `json:"method" validate:"required,oneof=CASH BANK"`
	CashBoxID     *int64 `json:"cash_box_id"`
	BankAccountID *int64 `json:"bank_account_id"`
	Currency      string `json:"currency" validate:"required,len=3"`
	ExchangeRate  string `json:"exchange_rate"`
	Amount        string `json:"amount" validate:"required"`
	Ref           string `json:"ref"`
	Memo          string `json:"memo"`
}

func (req paymentRequest) toInput() (PaymentInput, error) {
	date, err := time.Parse("2006-01-02", req.PayDate)
	if err != nil {
		return PaymentInput{}, errors.New("pay_date must be YYYY-MM-DD")
	}
	rate, err := parseRate(req.ExchangeRate)
	if err != nil {
		return PaymentInput{}, err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return PaymentInput{}, errors.New("amount must be numeric")
	}
	return PaymentInput{
		VendorID:      req.VendorID,
		PayDate:       date,
		Method:        PaymentMethod(req.Method),
		CashBoxID:     req.CashBoxID,
		BankAccountID: req.BankAccountID,
		Currency:      req.Currency,
		ExchangeRate:  rate,
		Amount:        amount,
		Ref:           req.Ref,
		Memo:          req.Memo,
	}, nil
}

func (h *Handler) postPayment(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req paymentRequest
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

	payment, entry, err := h.service.PostPayment(r.Context(), identity.Scope(), input)
	if err != nil {
		h.respondError(w, "post payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"payment": payment, "entry": entry})
}

type depositRequest struct {
	CashBoxID     int64  `json:"cash_box_id" validate:"required,gt=0"`
	BankAccountID int64  `json:"bank_account_id" validate:"required,gt=0"`
	DepositDate   string `json:"deposit_date" validate:"required"`
	Currency      string `json:"currency" validate:"required,len=3"`
	ExchangeRate  string `json:"exchange_rate"`
	Amount        string `json:"amount" validate:"required"`
	Ref           string `json:"ref"`
	Memo          string `json:"memo"`
}

func (req depositRequest) toInput() (DepositInput, error) {
	date, err := time.Parse("2006-01-02", req.DepositDate)
	if err != nil {
		return DepositInput{}, errors.New("deposit_date must be YYYY-MM-DD")
	}
	rate, err := parseRate(req.ExchangeRate)
	if err != nil {
		return DepositInput{}, err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return DepositInput{}, errors.New("amount must be numeric")
	}
	return DepositInput{
		CashBoxID:     req.CashBoxID,
		BankAccountID: req.BankAccountID,
		DepositDate:   date,
		Currency:      req.Currency,
		ExchangeRate:  rate,
		Amount:        amount,
		Ref:           req.Ref,
		Memo:          req.Memo,
	}, nil
}

func (h *Handler) postDeposit(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	var req depositRequest
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

	deposit, entry, err := h.service.PostDeposit(r.Context(), identity.Scope(), input)
	if err != nil {
		h.respondError(w, "post deposit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"deposit": deposit, "entry": entry})
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

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidDocument):
		httpx.ProblemCode(w, http.StatusBadRequest, CodeInvalidDocument, "Invalid Document", err.Error(), nil)
	case errors.Is(err, ErrCurrencyMismatch):
		httpx.ProblemCode(w, http.StatusBadRequest, CodeCurrencyMismatch, "Currency Mismatch", err.Error(), nil)
	case errors.Is(err, ErrVendorNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeVendorNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, ErrCashBoxNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeCashBoxNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, ErrBankAccountNotFound):
		httpx.ProblemCode(w, http.StatusNotFound, CodeBankAccountNotFound, "Not Found", err.Error(), nil)
	default:
		ledger.RespondError(w, h.logger, op, err)
	}
}

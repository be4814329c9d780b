package audittrail

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/auth"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler menyajikan audit trail lewat HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler membuat handler audit trail.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes mendaftarkan route audit trail.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePermission(shared.PermAuditView))
		r.Get("/entries/{id}", h.entryTrail)
		r.Get("/timeline", h.timeline)
	})
}

func (h *Handler) entryTrail(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || entryID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid entry id")
		return
	}

	rows, err := h.service.EntryTrail(r.Context(), identity.Scope(), entryID)
	if err != nil {
		ledger.RespondError(w, h.logger, "entry trail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry_id": entryID, "trail": rows})
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	identity, _ := shared.IdentityFromContext(r.Context())
	filters, err := parseTimelineFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	result, err := h.service.Timeline(r.Context(), identity.Scope(), filters)
	if err != nil {
		ledger.RespondError(w, h.logger, "audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseTimelineFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	var filters TimelineFilters
	filters.EntryID, _ = strconv.ParseInt(q.Get("entry_id"), 10, 64)
	filters.ActorID, _ = strconv.ParseInt(q.Get("actor_id"), 10, 64)
	filters.Action = ledger.AuditAction(q.Get("action"))
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	if v := q.Get("from"); v != "" {
		from, err := time.Parse("2006-01-02", v)
		if err != nil {
			return TimelineFilters{}, fmt.Errorf("from must be YYYY-MM-DD")
		}
		filters.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			return TimelineFilters{}, fmt.Errorf("to must be YYYY-MM-DD")
		}
		// Hari terakhir ikut dihitung penuh.
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	return filters, nil
}

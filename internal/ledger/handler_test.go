package ledger_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/ledger/ledgertest"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func withIdentity(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := shared.Identity{UserID: 7, CompanyID: testCompany, Permissions: perms}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func newLedgerRouter(t *testing.T, perms ...string) (http.Handler, *ledger.Service, *ledgertest.MemoryRepository) {
	t.Helper()
	svc, repo, _ := newFixture(t)
	handler := ledger.NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Use(withIdentity(perms...))
	handler.MountRoutes(r)
	return r, svc, repo
}

func decodeProblem(t *testing.T, res *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var problem httpx.ProblemDetail
	if err := json.Unmarshal(res.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return problem
}

const createBody = `{
	"entry_date": "2025-03-15",
	"currency": "USD",
	"description": "office rent",
	"lines": [
		{"account_id": 6100, "debit": "1000"},
		{"account_id": 1000, "credit": "1000"}
	]
}`

func TestHandlerCreateEntry(t *testing.T) {
	router, _, _ := newLedgerRouter(t, shared.PermLedgerEntryCreate)

	req := httptest.NewRequest(http.MethodPost, "/entries", strings.NewReader(createBody))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var entry ledger.JournalEntry
	if err := json.Unmarshal(res.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.EntryNumber != "JE-2025-000001" || entry.Status != ledger.StatusDraft {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestHandlerCreateEntryUnbalanced(t *testing.T) {
	router, _, _ := newLedgerRouter(t, shared.PermLedgerEntryCreate)

	body := strings.Replace(createBody, `"credit": "1000"`, `"credit": "900"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/entries", strings.NewReader(body))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
	}
	problem := decodeProblem(t, res)
	if problem.Code != ledger.CodeUnbalanced {
		t.Fatalf("expected code %s, got %s", ledger.CodeUnbalanced, problem.Code)
	}
	if problem.Fields["total_debit"] != "1000" || problem.Fields["total_credit"] != "900" {
		t.Fatalf("expected totals in fields, got %+v", problem.Fields)
	}
}

func TestHandlerCreateEntryMissingPermission(t *testing.T) {
	router, _, _ := newLedgerRouter(t, shared.PermLedgerView)

	req := httptest.NewRequest(http.MethodPost, "/entries", strings.NewReader(createBody))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestHandlerPostEntryConflict(t *testing.T) {
	router, svc, _ := newLedgerRouter(t, shared.PermLedgerEntryPost)

	input := rentInput(t, "1000")
	input.PostImmediately = true
	entry, err := svc.CreateEntry(context.Background(), testScope, input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/entries/%d/post", entry.ID), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.Code, res.Body.String())
	}
	if problem := decodeProblem(t, res); problem.Code != ledger.CodeAlreadyPosted {
		t.Fatalf("expected code %s, got %s", ledger.CodeAlreadyPosted, problem.Code)
	}
}

func TestHandlerReverseMissingReason(t *testing.T) {
	router, _, _ := newLedgerRouter(t, shared.PermLedgerEntryReverse)

	req := httptest.NewRequest(http.MethodPost, "/entries/1/reverse", strings.NewReader(`{"reversal_date":"2025-03-20"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if problem := decodeProblem(t, res); problem.Code != ledger.CodeMissingReason {
		t.Fatalf("expected code %s, got %s", ledger.CodeMissingReason, problem.Code)
	}
}

func TestHandlerGetEntryNotFound(t *testing.T) {
	router, _, _ := newLedgerRouter(t, shared.PermLedgerView)

	req := httptest.NewRequest(http.MethodGet, "/entries/999", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if problem := decodeProblem(t, res); problem.Code != ledger.CodeNotFound {
		t.Fatalf("expected code %s, got %s", ledger.CodeNotFound, problem.Code)
	}
}

func TestHandlerListEntriesByDate(t *testing.T) {
	router, svc, _ := newLedgerRouter(t, shared.PermLedgerView)

	if _, err := svc.CreateEntry(context.Background(), testScope, rentInput(t, "100")); err != nil {
		t.Fatalf("create: %v", err)
	}
	late := rentInput(t, "200")
	late.EntryDate = time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC)
	if _, err := svc.CreateEntry(context.Background(), testScope, late); err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/entries?from=2025-03-20&to=2025-03-31", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var payload struct {
		Entries    []ledger.JournalEntry `json:"entries"`
		Pagination shared.Pagination     `json:"pagination"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(payload.Entries) != 1 || payload.Pagination.Total != 1 {
		t.Fatalf("expected one entry in window, got %d (total %d)", len(payload.Entries), payload.Pagination.Total)
	}
}

package audittrail

import (
	"context"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit timeline baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EntryTrail mengambil seluruh riwayat satu entry, urut dari awal. Entry
// selalu punya minimal satu baris CREATED, jadi hasil kosong berarti entry
// tidak ada dalam scope perusahaan.
func (s *Service) EntryTrail(ctx context.Context, scope shared.Scope, entryID int64) ([]TimelineRow, error) {
	rows, err := s.repo.EntryTrail(ctx, scope.CompanyID, entryID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ledger.ErrEntryNotFound
	}
	return rows, nil
}

// Timeline mengambil timeline audit dengan filter dan paging. Satu baris
// ekstra diambil untuk mendeteksi halaman berikutnya.
func (s *Service) Timeline(ctx context.Context, scope shared.Scope, filters TimelineFilters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.TimelineWindow(ctx, scope.CompanyID, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}

	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

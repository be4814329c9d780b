// Package audittrail menyajikan sisi baca dari jurnal audit: riwayat
// lengkap satu entry dan timeline lintas entry dengan filter dan paging.
// Baris audit ditulis oleh mesin posting; paket ini tidak pernah menulis.
package audittrail

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	EntryID  int64
	Action   ledger.AuditAction
	ActorID  int64
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// TimelineRow mewakili satu baris audit timeline.
type TimelineRow struct {
	At          time.Time          `json:"at"`
	ActorID     int64              `json:"actor_id"`
	Action      ledger.AuditAction `json:"action"`
	EntryID     int64              `json:"entry_id"`
	EntryNumber string             `json:"entry_number"`
	Notes       string             `json:"notes,omitempty"`
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

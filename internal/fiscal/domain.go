// Package fiscal manages the fiscal calendar: one fiscal year per company
// and calendar year, carved into twelve monthly accounting periods whose
// status gates all ledger writes.
package fiscal

import (
	"fmt"
	"time"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// Valid reports whether the status is a known one.
func (s PeriodStatus) Valid() bool {
	switch s {
	case PeriodStatusOpen, PeriodStatusClosed, PeriodStatusLocked:
		return true
	}
	return false
}

// FiscalYear is the per-company container of a calendar year's periods.
type FiscalYear struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Year      int       `json:"year"`
	StartsOn  time.Time `json:"starts_on"`
	EndsOn    time.Time `json:"ends_on"`
	CreatedAt time.Time `json:"created_at"`
}

// Period represents one monthly accounting period window.
type Period struct {
	ID           int64        `json:"id"`
	CompanyID    int64        `json:"company_id"`
	FiscalYearID int64        `json:"fiscal_year_id"`
	Code         string       `json:"code"`
	StartsOn     time.Time    `json:"starts_on"`
	EndsOn       time.Time    `json:"ends_on"`
	Status       PeriodStatus `json:"status"`
	ClosedBy     *int64       `json:"closed_by,omitempty"`
	ClosedAt     *time.Time   `json:"closed_at,omitempty"`
	LockedBy     *int64       `json:"locked_by,omitempty"`
	LockedAt     *time.Time   `json:"locked_at,omitempty"`
	ReopenedBy   *int64       `json:"reopened_by,omitempty"`
	ReopenedAt   *time.Time   `json:"reopened_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Covers reports whether the date falls inside the period window.
func (p Period) Covers(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(p.StartsOn)) && !d.After(DateOnly(p.EndsOn))
}

// ValidateTransition checks a status change against the transition matrix.
// Locked periods can only be stepped down to CLOSED; the route permission is
// the override control.
func ValidateTransition(current, target PeriodStatus) error {
	if !target.Valid() {
		return ErrInvalidTransition
	}
	if current == target {
		return ErrInvalidTransition
	}
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed || target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen || target == PeriodStatusLocked {
			return nil
		}
	case PeriodStatusLocked:
		if target == PeriodStatusClosed {
			return nil
		}
	}
	return ErrInvalidTransition
}

// PeriodCode formats the canonical "YYYY-MM" code.
func PeriodCode(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

// DateOnly truncates a timestamp to a UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthWindow returns the first and last day of the month in UTC.
func MonthWindow(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start, end
}

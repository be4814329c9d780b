package fiscal

import "errors"

var (
	// ErrNoPeriod indicates no period covers the requested date.
	ErrNoPeriod = errors.New("fiscal: no period covers date")
	// ErrPeriodNotFound indicates the period id does not exist in company scope.
	ErrPeriodNotFound = errors.New("fiscal: period not found")
	// ErrYearNotFound indicates the fiscal year has not been generated yet.
	ErrYearNotFound = errors.New("fiscal: year not found")
	// ErrYearOutOfRange indicates a year outside the supported window.
	ErrYearOutOfRange = errors.New("fiscal: year out of range")
	// ErrInvalidTransition indicates a status change the matrix forbids.
	ErrInvalidTransition = errors.New("fiscal: period transition invalid")
	// ErrTransitionConflict indicates the period changed under a concurrent writer.
	ErrTransitionConflict = errors.New("fiscal: period changed concurrently")
)

// Stable machine codes surfaced in problem responses.
const (
	CodeNoPeriod          = "NO_OPEN_PERIOD"
	CodeNotFound          = "NOT_FOUND"
	CodeYearOutOfRange    = "YEAR_OUT_OF_RANGE"
	CodeInvalidTransition = "INVALID_PERIOD_TRANSITION"
	CodeConflict          = "CONFLICT"
)

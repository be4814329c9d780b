package gl

import "errors"

var (
	// ErrAccountNotFound indicates the account is absent from company scope.
	ErrAccountNotFound = errors.New("gl: account not found")
	// ErrInvalidRange indicates from is after to.
	ErrInvalidRange = errors.New("gl: invalid date range")

	errUnexpectedCacheValue = errors.New("gl: unexpected cached value type")
)

const (
	CodeAccountNotFound = "ACCOUNT_NOT_FOUND"
	CodeInvalidRange    = "INVALID_DATE_RANGE"
)

package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies scanner failures so callers can branch on the
// category rather than matching message text.
type ErrorKind string

const (
	ErrSourceUnavailable       ErrorKind = "SOURCE_UNAVAILABLE"
	ErrSourceFormat            ErrorKind = "SOURCE_FORMAT"
	ErrParseAmbiguous          ErrorKind = "PARSE_AMBIGUOUS"
	ErrAnalyzerParseFailure    ErrorKind = "ANALYZER_PARSE_FAILURE"
	ErrAnalyzerBudgetExhausted ErrorKind = "ANALYZER_BUDGET_EXHAUSTED"
	ErrValidationReject        ErrorKind = "VALIDATION_REJECT"
	ErrStalePlan               ErrorKind = "STALE_PLAN"
	ErrScanBusy                ErrorKind = "SCAN_BUSY"
	ErrCanceled                ErrorKind = "CANCELED"
)

// ScanError wraps an underlying error with its kind.
type ScanError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind via a bare &ScanError{Kind: k}.
func (e *ScanError) Is(target error) bool {
	var t *ScanError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewScanError builds a kinded error, optionally wrapping a cause.
func NewScanError(kind ErrorKind, msg string, cause error) *ScanError {
	return &ScanError{Kind: kind, Msg: msg, Err: cause}
}

// KindOf extracts the kind from an error chain, or "" when none.
func KindOf(err error) ErrorKind {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

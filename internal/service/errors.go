package service

import (
	"errors"
	"fmt"
)

var (
	ErrTokenRequired       = errors.New("session token required")
	ErrSessionInvalid      = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrQuotaExhausted      = errors.New("print quota exhausted")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrDocumentUnavailable = errors.New("document unavailable")
	ErrNormalizationFailed = errors.New("normalization failed")
	ErrLedgerCommit        = errors.New("quota ledger commit failed")
	ErrWatermarkFailed     = errors.New("watermark failed")
	ErrLookupFailed        = errors.New("grant lookup failed")
	ErrAuditFailed         = errors.New("audit write failed")
)

// Kind classifies a pipeline failure for callers that map it to a response.
type Kind string

const (
	KindInput          Kind = "InputError"
	KindAuthz          Kind = "AuthzError"
	KindNotFound       Kind = "NotFoundError"
	KindDependency     Kind = "DependencyError"
	KindSoftDependency Kind = "SoftDependencyError"
	KindInternal       Kind = "InternalError"
)

// Error is a pipeline failure tagged with its kind and the stage that raised it.
// Err always wraps one of the sentinel errors above.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, stage string, sentinel, cause error) *Error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %v", sentinel, cause)
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

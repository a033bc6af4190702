package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound     = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrInvalidRequest    = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrContentRequired   = NewErr("CONTENT_REQUIRED", "content field required", http.StatusBadRequest)
	ErrRequestTooLarge   = NewErr("REQUEST_TOO_LARGE", "request too large", http.StatusRequestEntityTooLarge)
	ErrUnsupportedMedia  = NewErr("UNSUPPORTED_MEDIA_TYPE", "expected Content-Type: application/json", http.StatusUnsupportedMediaType)
	ErrRateLimitExceeded = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrUnauthorized      = NewErr("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrInternalServer    = NewErr("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	var e *Err
	if errors.As(err, &e) {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal server error"}}
}
func Status(err error) int {
	var e *Err
	if errors.As(err, &e) {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

// StoreErrKind tags a storage failure. A missing paste is not a failure and
// has no kind.
type StoreErrKind int

const (
	KindConnection StoreErrKind = iota + 1
	KindSerialization
)

func (k StoreErrKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindSerialization:
		return "serialization"
	}
	return "unknown"
}

// Sentinels for errors.Is against a *StoreError.
var (
	ErrStoreConnection = errors.New("store connection failure")
	ErrSerialization   = errors.New("paste serialization failure")
)

type StoreError struct {
	Kind StoreErrKind
	Op   string
	Err  error
}

func NewStoreError(kind StoreErrKind, op string, err error) *StoreError {
	return &StoreError{Kind: kind, Op: op, Err: err}
}
func (e *StoreError) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String() + " error"
	}
	return e.Op + ": " + e.Kind.String() + " error: " + e.Err.Error()
}
func (e *StoreError) Unwrap() error { return e.Err }
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrStoreConnection:
		return e.Kind == KindConnection
	case ErrSerialization:
		return e.Kind == KindSerialization
	}
	return false
}

// StoreErrorKind reports the kind of the first *StoreError in err's chain.
func StoreErrorKind(err error) (StoreErrKind, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

package image

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies generation failures for the orchestrator and
// the HTTP boundary.
type ErrorKind string

const (
	KindAuth           ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindContentBlocked ErrorKind = "content_blocked"
	KindUpstream       ErrorKind = "upstream_unavailable"
	KindNoImage        ErrorKind = "no_image"
	KindGeneration     ErrorKind = "generation"
)

// Error is a classified provider failure. Classification is keyed by
// vendor HTTP status or vendor error code, never by message substrings.
type Error struct {
	Kind        ErrorKind
	Provider    string
	StatusCode  int
	Detail      string
	BlockReason string
	Err         error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, defaulting to
// KindGeneration for anything untyped.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindGeneration
}

// BlockReasonOf returns the vendor block reason when err is a
// content-policy block, empty otherwise.
func BlockReasonOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) && perr.Kind == KindContentBlocked {
		return perr.BlockReason
	}
	return ""
}

// statusKinds maps vendor HTTP status codes to error kinds. Codes not
// listed fall through by range: 4xx invalid request, 5xx upstream.
var statusKinds = map[int]ErrorKind{
	http.StatusUnauthorized:          KindAuth,
	http.StatusForbidden:             KindAuth,
	http.StatusPaymentRequired:       KindAuth,
	http.StatusTooManyRequests:       KindRateLimit,
	http.StatusBadRequest:            KindInvalidRequest,
	http.StatusRequestEntityTooLarge: KindInvalidRequest,
	http.StatusUnsupportedMediaType:  KindInvalidRequest,
	http.StatusUnprocessableEntity:   KindInvalidRequest,
}

func classifyStatus(provider string, status int, detail string) *Error {
	kind, ok := statusKinds[status]
	if !ok {
		switch {
		case status >= 500:
			kind = KindUpstream
		case status >= 400:
			kind = KindInvalidRequest
		default:
			kind = KindGeneration
		}
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: status, Detail: detail}
}

func transportError(provider string, err error) *Error {
	return &Error{Kind: KindUpstream, Provider: provider, Err: err}
}

func noImageError(provider, detail string) *Error {
	return &Error{Kind: KindNoImage, Provider: provider, Detail: detail}
}

func blockedError(provider, reason string) *Error {
	return &Error{Kind: KindContentBlocked, Provider: provider, BlockReason: reason, Detail: fmt.Sprintf("blocked by content policy (%s)", reason)}
}

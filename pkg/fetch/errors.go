package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrInvalidInput is returned for an empty or unparseable target.
	ErrInvalidInput = errors.New("invalid input")
	// ErrFetchFailed is returned when the upstream request did not succeed.
	ErrFetchFailed = errors.New("fetch failed")

	errTooManyRedirects = errors.New("too many redirects")
)

// Diagnostic codes carried by *Error.
const (
	CodeInvalidURL       = "ERR_INVALID_URL"
	CodeTimeout          = "ETIMEDOUT"
	CodeNotFound         = "ENOTFOUND"
	CodeRefused          = "ECONNREFUSED"
	CodeReset            = "ECONNRESET"
	CodeTooManyRedirects = "ERR_FR_TOO_MANY_REDIRECTS"
	CodeBadRequest       = "ERR_BAD_REQUEST"
	CodeBadResponse      = "ERR_BAD_RESPONSE"
	CodeNetwork          = "ERR_NETWORK"
)

// Error describes a failed fetch. Kind is ErrInvalidInput or ErrFetchFailed.
type Error struct {
	Kind   error
	Code   string
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.URL != "":
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

// Timeout reports whether the fetch was abandoned because it ran out of time.
func (e *Error) Timeout() bool { return e.Code == CodeTimeout }

func invalidInput(target string, err error) *Error {
	return &Error{Kind: ErrInvalidInput, Code: CodeInvalidURL, URL: target, Err: err}
}

func statusError(target string, status int, text string) *Error {
	code := CodeBadResponse
	if status >= 400 && status < 500 {
		code = CodeBadRequest
	}
	return &Error{
		Kind:   ErrFetchFailed,
		Code:   code,
		URL:    target,
		Status: status,
		Err:    fmt.Errorf("request failed with status code %d (%s)", status, text),
	}
}

// transportError maps a client error onto a diagnostic code.
func transportError(target string, err error) *Error {
	return &Error{Kind: ErrFetchFailed, Code: classify(err), URL: target, Err: err}
}

func classify(err error) string {
	var (
		netErr net.Error
		dnsErr *net.DNSError
	)
	switch {
	case errors.Is(err, errTooManyRedirects):
		return CodeTooManyRedirects
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return CodeTimeout
	case errors.As(err, &dnsErr):
		return CodeNotFound
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeRefused
	case errors.Is(err, syscall.ECONNRESET):
		return CodeReset
	default:
		return CodeNetwork
	}
}

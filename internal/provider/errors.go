package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a provider call failed.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindStatus      Kind = "status"
	KindMalformed   Kind = "malformed"
	KindEmpty       Kind = "empty"
	KindConfig      Kind = "config"
	KindRateLimited Kind = "rate_limited"
	KindPanic       Kind = "panic"
)

// Error is the structured failure returned by every provider adapter. Callers
// branch on Kind and StatusCode instead of inspecting message text.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Provider != "" {
		return e.Provider + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same provider could plausibly succeed if
// called again shortly.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindRateLimited:
		return true
	case KindStatus:
		switch e.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// NewError wraps err as a provider error of the given kind.
func NewError(provider string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// StatusError builds the error for a non-2xx response. body is a bounded
// excerpt of the response and may be empty.
func StatusError(provider string, code int, body string) *Error {
	var err error
	if body != "" {
		err = errors.New(body)
	}
	kind := KindStatus
	if code == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	return &Error{Provider: provider, Kind: kind, StatusCode: code, Err: err}
}

// Classify returns the structured form of err, attributing it to provider
// when err is not already a *Error.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			cp := *pe
			cp.Provider = provider
			return &cp
		}
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(provider, KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewError(provider, KindCanceled, err)
	default:
		return NewError(provider, KindTransport, err)
	}
}

// KindOf returns the classification of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify("", err).Kind
}

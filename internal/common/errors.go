// Package common defines shared constants and sentinel errors used across
// server layers. Callers should use errors.Is to match these values and
// KindOf to branch on the error class.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrInvalidInput   = errors.New("invalid input")

	// Operator misconfiguration (unset or unresolvable price, missing secrets).
	ErrConfiguration = errors.New("configuration error")

	// Payment precondition not met.
	ErrPaymentRequired = errors.New("payment required")
	ErrAlreadyPaid     = errors.New("record already paid")
	// A checkout for the record is complete and awaiting settlement, or
	// another caller replaced the session concurrently.
	ErrCheckoutPending = errors.New("checkout already in progress")

	// Failure expected to resolve on retry (timeouts, 5xx, throttling).
	ErrTransient = errors.New("transient error")

	// AI transform step failed; recovered by the copy-through fallback.
	ErrTransform = errors.New("transform failed")

	// Auth errors (invalid or malformed record capability token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Download token errors. Both wrap ErrDownloadUnavailable so untrusted
	// callers see one outcome while logs keep the distinction.
	ErrDownloadUnavailable = errors.New("download unavailable")
	ErrDownloadExpired     = fmt.Errorf("%w: token expired", ErrDownloadUnavailable)
	ErrDownloadUnknown     = fmt.Errorf("%w: unknown token", ErrDownloadUnavailable)
)

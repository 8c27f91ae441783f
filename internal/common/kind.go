package common

import (
	"context"
	"errors"
)

// Kind is the closed set of error classes that cross the service boundary.
type Kind int

const (
	KindFatal Kind = iota
	KindConfiguration
	KindPaymentRequired
	KindNotFound
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindPaymentRequired:
		return "payment_required"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// KindOf classifies err. A nil error has no meaningful kind and reports KindFatal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindFatal
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrPaymentRequired):
		return KindPaymentRequired
	case errors.Is(err, ErrorNotFound), errors.Is(err, ErrDownloadUnavailable):
		return KindNotFound
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindFatal
	}
}

// IsRetryable reports whether the caller should try err's operation again.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

package repost

import (
	"errors"
	"fmt"
)

var (
	ErrConfigurationMissing = errors.New("publish times or days offset not configured")
	ErrInvalidTimezone      = errors.New("invalid timezone")
	ErrInvalidTime          = errors.New("invalid time of day, want HH:MM")
	ErrInvalidHorizon       = errors.New("days offset must be between 1 and 366")
	ErrInvalidSendMode      = errors.New("send mode must be forward or copy")
	ErrInvalidTarget        = errors.New("target must be @username or a numeric chat id")
	ErrJobInFlight          = errors.New("job delivery already in progress")

	// Sentinels matched by DeliveryError.Is for each failure kind.
	ErrSourceMissing      = errors.New("source message not found")
	ErrDestinationMissing = errors.New("destination chat not found")
	ErrTransient          = errors.New("transient transport error")
)

// FailureKind is the closed set of delivery failure classes a transport reports.
type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailureSourceMissing
	FailureDestinationMissing
)

func (k FailureKind) String() string {
	switch k {
	case FailureSourceMissing:
		return "source_missing"
	case FailureDestinationMissing:
		return "destination_missing"
	default:
		return "transient"
	}
}

// Retryable reports whether another attempt may succeed.
func (k FailureKind) Retryable() bool { return k != FailureDestinationMissing }

// DeliveryError is returned by Transport.Send for every failure.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func NewDeliveryError(kind FailureKind, err error) *DeliveryError {
	return &DeliveryError{Kind: kind, Err: err}
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrSourceMissing:
		return e.Kind == FailureSourceMissing
	case ErrDestinationMissing:
		return e.Kind == FailureDestinationMissing
	case ErrTransient:
		return e.Kind == FailureTransient
	}
	return false
}

// KindOf extracts the failure kind. Unclassified errors are transient.
func KindOf(err error) FailureKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return FailureTransient
}

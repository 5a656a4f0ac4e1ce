package engine

import "errors"

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrAtCapacity  = errors.New("task engine at capacity")
	ErrNilTaskFunc = errors.New("task has no run func")
)

// NoRetry marks err as permanent: Retry returns it after the current attempt
// instead of sleeping and trying again.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsNoRetry reports whether err carries a NoRetry mark.
func IsNoRetry(err error) bool {
	_, ok := unwrapPermanent(err)
	return ok
}

// unwrapPermanent returns the error inside the NoRetry mark, if any.
func unwrapPermanent(err error) (error, bool) {
	var p *permanentError
	if errors.As(err, &p) {
		return p.err, true
	}
	return err, false
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

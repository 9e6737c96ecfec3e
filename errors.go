package bulwark

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyKey     = errors.New("bulwark: empty key")
	ErrEmptyPattern = errors.New("bulwark: empty pattern")
	ErrNilCompute   = errors.New("bulwark: nil compute func")
	ErrInvalidTTL   = errors.New("bulwark: negative ttl")
	ErrClosed       = errors.New("bulwark: service closed")
)

// InvalidateError reports a pattern invalidation that stopped early or could
// not delete every match. Removed keys are still counted.
type InvalidateError struct {
	Pattern string
	Removed int
	ScanErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.ScanErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: scan and delete failed (removed %d): scan=%v; delete=%v",
			e.Pattern, e.Removed, e.ScanErr, e.DelErr)
	case e.ScanErr != nil:
		return fmt.Sprintf("invalidate %q: scan failed (removed %d): %v", e.Pattern, e.Removed, e.ScanErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed (removed %d): %v", e.Pattern, e.Removed, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Pattern)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.ScanErr != nil {
		errs = append(errs, e.ScanErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}

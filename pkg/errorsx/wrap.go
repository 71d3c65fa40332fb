// Package errorsx tags errors with short machine-readable reason codes so
// call sites can branch on the failure class without matching message text.
package errorsx

import "errors"

// ReasonedError carries the reason code assigned closest to the failure's
// origin. Wrapping never overwrites it.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap tags err with a reason code. Nil errors stay nil, and an error that
// already carries a reason anywhere in its chain is returned unchanged.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var tagged ReasonedError
	if errors.As(err, &tagged) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason code carried in err's chain, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var tagged ReasonedError
	if err == nil || !errors.As(err, &tagged) {
		return ReasonUnknown
	}
	return tagged.Reason
}

// HasReason reports whether err carries the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

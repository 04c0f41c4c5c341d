package otp

import (
	"errors"
	"fmt"
)

// ErrDecode is returned when the server info payload is not valid JSON.
var ErrDecode = errors.New("decode server info")

// ProbeError describes a failed detection request.
type ProbeError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.StatusCode != 0 && e.Err == nil {
		return fmt.Sprintf("OTP probe %s: unexpected status %d", e.URL, e.StatusCode)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("OTP probe %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("OTP probe %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProbeError) Unwrap() error {
	return e.Err
}

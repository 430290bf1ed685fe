package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for the authentication steps. The HTTP layer maps
// all four to UNAUTHORIZED.
var (
	ErrMissingKey  = errors.New("auth: missing API key")
	ErrInvalidKey  = errors.New("auth: invalid API key")
	ErrKeyExpired  = errors.New("auth: API key expired")
	ErrKeyInactive = errors.New("auth: API key deactivated")
)

// Admission failure codes carried by LimitError.
const (
	CodeRateLimited   = "RATE_LIMITED"
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
)

// LimitError reports a rejected admission. RetryAfterSeconds is set
// for rate-window and daily-cap rejections and zero when waiting
// cannot help (per-request patient cap).
type LimitError struct {
	Code              string
	RetryAfterSeconds int
	Message           string
}

func (e *LimitError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("%s: %s (retry after %ds)", e.Code, e.Message, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsLimitError unwraps err to a LimitError when it is one.
func AsLimitError(err error) (*LimitError, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

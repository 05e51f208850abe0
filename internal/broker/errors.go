package broker

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitError is returned when the broker rejects a request for sending
// too many of them. It is the one failure mode the coordination layer must
// be able to tell apart from everything else, since it drives queue drains,
// cool-downs and emergency mode.
type RateLimitError struct {
	StatusCode int    // HTTP status, 429 for the brokers we support
	Code       int    // broker error code, e.g. -1003
	Message    string
	BanUntil   time.Time // zero when the broker did not report a ban window
}

func (e *RateLimitError) Error() string {
	if !e.BanUntil.IsZero() {
		return fmt.Sprintf("broker rate limit (status=%d code=%d): %s, banned until %s",
			e.StatusCode, e.Code, e.Message, e.BanUntil.Format(time.RFC3339))
	}
	return fmt.Sprintf("broker rate limit (status=%d code=%d): %s", e.StatusCode, e.Code, e.Message)
}

// IsRateLimit reports whether err represents a rate-limit rejection.
// Detection is deliberately broad: typed error, 429 status, broker code
// -1003, or the usual message substrings, so that errors surfaced through
// intermediate wrapping layers are still recognized.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "-1003") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "rate limit")
}

// ParseBanUntil extracts a millisecond ban timestamp from a broker error
// message of the form "... banned until 1766824120342". Returns the zero
// time when no plausible timestamp is present.
func ParseBanUntil(errMsg string) time.Time {
	var banUntil int64
	_, err := fmt.Sscanf(errMsg, "%*[^0-9]%d", &banUntil)
	if err != nil {
		return time.Time{}
	}

	// Sanity check: a millisecond timestamp within the next 24 hours.
	now := time.Now()
	if banUntil > now.UnixMilli() && banUntil < now.Add(24*time.Hour).UnixMilli() {
		return time.UnixMilli(banUntil)
	}
	return time.Time{}
}

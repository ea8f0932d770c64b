package llm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrAllKeysExhausted means no key in the pool is usable: every key is
// disabled, the soonest cooldown ends later than the retry delay, or the
// retry budget is spent. Workers re-enqueue on it.
var ErrAllKeysExhausted = errors.New("all API keys exhausted")

// APIError is a transport-level failure from the model API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm API error (status %d): %s", e.Status, truncate(e.Body, 200))
}

// errorKind classifies a transport error for the rotation loop.
type errorKind int

const (
	kindOther errorKind = iota
	kindRateLimited
	kindOverloaded
	kindInvalidKey
	kindTimeout
)

// classify maps an error to its retry/rotation behavior per the gateway
// contract: 429/"quota" → rate limited (penalize key, rotate); 503/
// "overloaded" → overloaded (same key after a long sleep); 400/401/403/
// "API_KEY_INVALID" → key permanently unavailable; timeouts behave like
// rate limits without penalizing the key.
func classify(err error) (errorKind, time.Duration) {
	if err == nil {
		return kindOther, 0
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 429:
			return kindRateLimited, retryAfterFromBody(apiErr.Body)
		case 503:
			return kindOverloaded, 0
		case 400, 401, 403:
			return kindInvalidKey, 0
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api_key_invalid"):
		return kindInvalidKey, 0
	case strings.Contains(msg, "429"), strings.Contains(msg, "quota"):
		return kindRateLimited, retryAfterFromBody(msg)
	case strings.Contains(msg, "503"), strings.Contains(msg, "overloaded"):
		return kindOverloaded, 0
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		return kindTimeout, 0
	}
	return kindOther, 0
}

const defaultRetryAfter = 60 * time.Second

// retryAfterFromBody extracts a suggested cooldown from an error payload
// ("retryDelay": "12s", "retry_after": 12, ...). Defaults to 60s.
func retryAfterFromBody(body string) time.Duration {
	lower := strings.ToLower(body)
	for _, marker := range []string{"retrydelay", "retry_after", "retry-after", "retryafter"} {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := lower[idx+len(marker):]
		var digits strings.Builder
		started := false
		for _, r := range rest {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
				started = true
				continue
			}
			if started {
				break
			}
			// Skip separators like `":` and whitespace before the number.
			if digits.Len() == 0 && (r == '"' || r == ':' || r == ' ' || r == '=') {
				continue
			}
			break
		}
		if digits.Len() > 0 {
			if secs, err := strconv.Atoi(digits.String()); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultRetryAfter
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

package llm

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		want errorKind
	}{
		{&APIError{Status: 429, Body: "quota exceeded"}, kindRateLimited},
		{&APIError{Status: 503, Body: "overloaded"}, kindOverloaded},
		{&APIError{Status: 400, Body: "API_KEY_INVALID"}, kindInvalidKey},
		{&APIError{Status: 401, Body: "unauthorized"}, kindInvalidKey},
		{&APIError{Status: 403, Body: "forbidden"}, kindInvalidKey},
		{&APIError{Status: 500, Body: "boom"}, kindOther},
		{fmt.Errorf("transport: 429 too many requests"), kindRateLimited},
		{fmt.Errorf("model quota exhausted for today"), kindRateLimited},
		{fmt.Errorf("upstream 503 unavailable"), kindOverloaded},
		{fmt.Errorf("the model is overloaded"), kindOverloaded},
		{fmt.Errorf("bad key: API_KEY_INVALID"), kindInvalidKey},
		{errors.New("context deadline exceeded"), kindTimeout},
		{errors.New("something else"), kindOther},
	}
	for _, tc := range cases {
		kind, _ := classify(tc.err)
		if kind != tc.want {
			t.Errorf("classify(%v) = %v, want %v", tc.err, kind, tc.want)
		}
	}
}

func TestRetryAfterExtraction(t *testing.T) {
	cases := []struct {
		body string
		want time.Duration
	}{
		{`{"error": {"details": [{"retryDelay": "12s"}]}}`, 12 * time.Second},
		{`retry_after: 5`, 5 * time.Second},
		{`Retry-After: 30`, 30 * time.Second},
		{`no hint here`, defaultRetryAfter},
		{``, defaultRetryAfter},
	}
	for _, tc := range cases {
		if got := retryAfterFromBody(tc.body); got != tc.want {
			t.Errorf("retryAfterFromBody(%q) = %v, want %v", tc.body, got, tc.want)
		}
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

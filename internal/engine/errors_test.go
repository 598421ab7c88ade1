package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{errors.New("429 Too Many Requests"), ErrKindRateLimit},
		{errors.New("rate limit reached for model"), ErrKindRateLimit},
		{errors.New("your key exceeded its quota"), ErrKindRateLimit},
		{errors.New("401 Unauthorized"), ErrKindAuth},
		{errors.New("invalid api key provided"), ErrKindAuth},
		{errors.New("403 forbidden"), ErrKindAuth},
		{errors.New("500 internal server error"), ErrKindTransient},
		{errors.New("502 bad gateway"), ErrKindTransient},
		{errors.New("dial tcp: connection refused"), ErrKindTransient},
		{errors.New("client timeout exceeded"), ErrKindTransient},
		{errors.New("the model is overloaded"), ErrKindTransient},
		{context.Canceled, ErrKindCancelled},
		{context.DeadlineExceeded, ErrKindTransient},
		{errors.New("model does not support images"), ErrKindAPI},
		{nil, ErrKindAPI},
	}
	for _, tt := range tests {
		if got := ClassifyProviderError(tt.err); got != tt.want {
			t.Errorf("ClassifyProviderError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWrapProviderError(t *testing.T) {
	err := WrapProviderError("groq", "llama", errors.New("429 rate limit, try again in 3s"))

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %T, want *ProviderError", err)
	}
	if pe.Kind != ErrKindRateLimit || pe.Provider != "groq" || pe.Model != "llama" {
		t.Errorf("pe = %+v", pe)
	}
	if pe.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want 3s", pe.RetryAfter)
	}
	if !pe.Retryable() {
		t.Error("rate limit should be retryable")
	}

	// Rewrapping must not reclassify.
	rewrapped := WrapProviderError("other", "m", err)
	var pe2 *ProviderError
	if !errors.As(rewrapped, &pe2) || pe2.Provider != "groq" {
		t.Error("already classified errors should pass through")
	}

	if WrapProviderError("p", "m", nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestProviderErrorRetryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrKindRateLimit, true},
		{ErrKindTransient, true},
		{ErrKindAuth, false},
		{ErrKindAPI, false},
		{ErrKindCancelled, false},
	}
	for _, tt := range tests {
		pe := &ProviderError{Kind: tt.kind}
		if got := pe.Retryable(); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestExtractRetryAfter(t *testing.T) {
	tests := []struct {
		msg  string
		want time.Duration
	}{
		{"rate limit, please try again in 7.664s", 7664 * time.Millisecond},
		{"try again in 1m3s", time.Minute + 3*time.Second},
		{"Retry-After: 30", 30 * time.Second},
		{"retry after 12", 12 * time.Second},
		{"no hint at all", 0},
	}
	for _, tt := range tests {
		if got := ExtractRetryAfter(errors.New(tt.msg)); got != tt.want {
			t.Errorf("ExtractRetryAfter(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}

	pe := &ProviderError{Kind: ErrKindRateLimit, RetryAfter: 9 * time.Second}
	if got := ExtractRetryAfter(pe); got != 9*time.Second {
		t.Errorf("embedded hint = %v, want 9s", got)
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(context.Canceled) {
		t.Error("context.Canceled is a cancellation")
	}
	if !IsCancellation(fmt.Errorf("request: %w", context.Canceled)) {
		t.Error("wrapped context.Canceled is a cancellation")
	}
	if !IsCancellation(&ProviderError{Kind: ErrKindCancelled}) {
		t.Error("cancelled provider error is a cancellation")
	}
	if IsCancellation(errors.New("500 internal server error")) {
		t.Error("server errors are not cancellations")
	}
	if IsCancellation(nil) {
		t.Error("nil is not a cancellation")
	}
}

func TestRetryWithPolicyExhaustsThenFails(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	calls := 0
	_, err := RetryWithPolicy(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("503 service unavailable")
	}, nil)

	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 try + 2 retries)", calls)
	}
}

func TestRetryWithPolicyStopsOnNonRetryable(t *testing.T) {
	policy := DefaultRetryPolicy()

	calls := 0
	_, err := RetryWithPolicy(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("401 unauthorized")
	}, nil)

	if err == nil || calls != 1 {
		t.Errorf("err = %v, calls = %d; auth errors must not retry", err, calls)
	}
}

func TestRetryWithPolicyRecovers(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	calls := 0
	retries := 0
	got, err := RetryWithPolicy(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset by peer")
		}
		return "fine", nil
	}, func(attempt int, delay time.Duration, err error) {
		retries++
	})

	if err != nil || got != "fine" {
		t.Fatalf("got = %q, err = %v", got, err)
	}
	if calls != 2 || retries != 1 {
		t.Errorf("calls = %d, retries = %d", calls, retries)
	}
}

func TestRetryWithPolicyHonoursContext(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := RetryWithPolicy(ctx, policy, func(ctx context.Context) (int, error) {
		return 0, errors.New("503")
	}, nil)

	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation should interrupt the backoff sleep")
	}
}

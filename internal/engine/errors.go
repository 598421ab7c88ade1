// Package engine holds the agent loop, the tool registry and the shared
// types every provider and adapter works in terms of.
// This file contains error classification for provider failures.

package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrorKind buckets provider failures by how the loop should react.
type ErrorKind string

const (
	ErrKindAuth      ErrorKind = "authentication" // 401/403, bad or missing key
	ErrKindRateLimit ErrorKind = "rate_limit"     // 429, respect Retry-After
	ErrKindTransient ErrorKind = "transient"      // 5xx, network, timeouts
	ErrKindAPI       ErrorKind = "api"            // anything else the provider rejected
	ErrKindCancelled ErrorKind = "cancelled"      // caller aborted the request
)

// ProviderError wraps a provider failure with enough metadata for the retry
// layer and for user-facing reporting.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	HTTPStatus int
	RetryAfter time.Duration // zero when the provider gave no hint
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the loop may re-issue the request.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrKindRateLimit || e.Kind == ErrKindTransient
}

// WrapProviderError classifies err and attaches provider/model metadata.
// Already-classified errors pass through untouched so the original HTTP
// status survives rewrapping.
func WrapProviderError(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{
		Kind:       ClassifyProviderError(err),
		Provider:   provider,
		Model:      model,
		RetryAfter: ExtractRetryAfter(err),
		Err:        err,
	}
}

// ClassifyProviderError sorts an error into an ErrorKind. SDKs surface HTTP
// failures as strings in wildly different shapes, so this matches on the
// common substrings rather than concrete types.
func ClassifyProviderError(err error) ErrorKind {
	if err == nil {
		return ErrKindAPI
	}

	if errors.Is(err, context.Canceled) {
		return ErrKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTransient
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "context canceled") ||
		strings.Contains(errStr, "operation was canceled") {
		return ErrKindCancelled
	}

	// Rate limits (429) come before auth: some gateways phrase quota
	// exhaustion as "key exceeded its quota".
	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "quota") {
		return ErrKindRateLimit
	}

	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid x-api-key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "permission denied") {
		return ErrKindAuth
	}

	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "unexpected eof") {
		return ErrKindTransient
	}

	return ErrKindAPI
}

var (
	// "retry after 30", "retry-after: 30"
	retryAfterSecondsRe = regexp.MustCompile(`(?i)retry[- ]after:?\s*(\d+)`)
	// Groq-style "Please try again in 7.664s" / "in 1m3.2s"
	retryInDurationRe = regexp.MustCompile(`(?i)try again in\s*([0-9hms\.]+)`)
)

// ExtractRetryAfter pulls a retry hint out of a provider error. Providers
// encode this either as a Retry-After header echoed into the message, as an
// HTTP date, or as a human-readable duration. Returns 0 when nothing parses.
func ExtractRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}

	var pe *ProviderError
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter
	}

	errStr := err.Error()

	if m := retryInDurationRe.FindStringSubmatch(errStr); m != nil {
		if d, perr := time.ParseDuration(m[1]); perr == nil && d > 0 {
			return d
		}
		var secs float64
		if _, perr := fmt.Sscanf(m[1], "%f", &secs); perr == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}

	if m := retryAfterSecondsRe.FindStringSubmatch(errStr); m != nil {
		var secs int
		if _, perr := fmt.Sscanf(m[1], "%d", &secs); perr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}

	// Retry-After as an HTTP date, seen on some gateways.
	if idx := strings.Index(strings.ToLower(errStr), "retry-after:"); idx >= 0 {
		rest := strings.TrimSpace(errStr[idx+len("retry-after:"):])
		if t, perr := time.Parse(time.RFC1123, rest); perr == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}

	return 0
}

// IsCancellation reports whether err stems from the caller aborting the
// request rather than from the provider failing it.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ErrKindCancelled
	}
	return strings.Contains(strings.ToLower(err.Error()), "context canceled")
}

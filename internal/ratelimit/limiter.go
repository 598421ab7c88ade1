// Package ratelimit paces outgoing chat requests against per-minute
// provider quotas. One Limiter is shared by the whole process so model and
// provider switches keep drawing from the same usage ledger.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/iabuilder/iabuilder/internal/engine"
)

// ledgerWindow is how long an observation stays in the usage ledger.
const ledgerWindow = 120 * time.Second

// charsPerToken is the crude prose ratio used when the provider gives no
// tokenizer. Good enough for pacing, not for billing.
const charsPerToken = 4

// minEstimate floors EstimateTokens so trivial requests still reserve room
// for message framing overhead.
const minEstimate = 100

type observation struct {
	at     time.Time
	tokens int
}

// Limiter tracks requests and tokens observed in the current calendar
// minute and sleeps to the next minute boundary when a pending request
// would not fit. All state sits behind one mutex; the ledger and the
// per-minute counters are consistent at the end of every public call.
type Limiter struct {
	mu       sync.Mutex
	provider string
	model    string
	limits   Limits
	minute   time.Time // start of the calendar minute the counters cover
	requests int
	tokens   int
	ledger   []observation

	onWait func(remaining time.Duration)

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Limiter configured from the static quota table for the
// given provider and model.
func New(provider, model string) *Limiter {
	l := &Limiter{
		provider: provider,
		model:    model,
		limits:   LimitsFor(provider, model),
		now:      time.Now,
	}
	l.sleep = l.sleepReal
	l.minute = l.now().Truncate(time.Minute)
	return l
}

// SetOnWait installs the countdown callback, invoked roughly once per
// second while SmartDelay sleeps with the time remaining.
func (l *Limiter) SetOnWait(fn func(remaining time.Duration)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onWait = fn
}

// UpdateModel re-points the limiter at a new provider/model pair. A
// non-empty tier relabels the quota row when the account sits on a tier
// the static table does not describe. The ledger survives the switch; the
// minute counters start fresh because the new quota is unrelated to the
// old one, and the token buffer follows the new quota automatically.
func (l *Limiter) UpdateModel(provider, model, tier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.provider = provider
	l.model = model
	l.limits = LimitsFor(provider, model)
	if tier != "" {
		l.limits.Tier = tier
	}
	l.minute = l.now().Truncate(time.Minute)
	l.requests = 0
	l.tokens = 0
}

// EstimateTokens sizes a pending request: roles, message content and tool
// call payloads count as prose, while tool schemas count double because
// providers expand them server-side before the model sees them.
func (l *Limiter) EstimateTokens(messages []engine.Message, tools []engine.ToolSchema) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Role) + len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	for _, t := range tools {
		if b, err := json.Marshal(t); err == nil {
			chars += 2 * len(b)
		}
	}
	est := chars / charsPerToken
	if est < minEstimate {
		est = minEstimate
	}
	return est
}

// CanProceed reports whether a request of the given size fits inside the
// current minute's effective budgets.
func (l *Limiter) CanProceed(estimatedTokens int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	l.roll(now)
	return l.canProceedLocked(estimatedTokens)
}

func (l *Limiter) canProceedLocked(est int) bool {
	return l.tokens+est <= l.effectiveTPM() && l.requests < l.effectiveRPM()
}

// SmartDelay blocks until the estimated request fits under the effective
// limits. When it does not fit, the limiter sleeps to the next minute
// boundary (ticking onWait each second) and then starts a fresh window.
// It reports whether it waited. Budget exhaustion never errors; the only
// error is a cancelled ctx aborting the wait.
func (l *Limiter) SmartDelay(ctx context.Context, estimatedTokens int) (bool, error) {
	l.mu.Lock()
	now := l.now()
	l.evict(now)
	l.roll(now)

	if l.canProceedLocked(estimatedTokens) {
		l.mu.Unlock()
		return false, nil
	}

	next := now.Truncate(time.Minute).Add(time.Minute)
	l.mu.Unlock()

	if err := l.waitUntil(ctx, next); err != nil {
		return false, err
	}

	l.mu.Lock()
	now = l.now()
	l.minute = now.Truncate(time.Minute)
	l.requests = 0
	l.tokens = 0
	l.evict(now)
	l.mu.Unlock()
	return true, nil
}

// Record observes one completed request: a ledger entry is appended and
// both per-minute counters advance. Stale ledger entries are evicted here
// as at every other observation point.
func (l *Limiter) Record(promptTokens, completionTokens int) {
	total := promptTokens + completionTokens
	if total < 0 {
		total = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	l.roll(now)
	l.requests++
	l.tokens += total
	l.ledger = append(l.ledger, observation{at: now, tokens: total})
}

// Snapshot reports the limiter state for display.
type Snapshot struct {
	Provider          string
	Model             string
	Tier              string
	RequestsPerMinute int
	TokensPerMinute   int
	RequestsPerDay    int // zero when the provider publishes no day quota
	TokensPerDay      int
	EffectiveRPM      int
	EffectiveTPM      int
	RequestsThisMin   int
	TokensThisMin     int
	LedgerTokens      int // tokens observed in the trailing 120s
}

// Stats returns a point-in-time view of the limiter.
func (l *Limiter) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	l.roll(now)

	ledgerTokens := 0
	for _, o := range l.ledger {
		ledgerTokens += o.tokens
	}

	return Snapshot{
		Provider:          l.provider,
		Model:             l.model,
		Tier:              l.limits.Tier,
		RequestsPerMinute: l.limits.RequestsPerMinute,
		TokensPerMinute:   l.limits.TokensPerMinute,
		RequestsPerDay:    l.limits.RequestsPerDay,
		TokensPerDay:      l.limits.TokensPerDay,
		EffectiveRPM:      l.effectiveRPM(),
		EffectiveTPM:      l.effectiveTPM(),
		RequestsThisMin:   l.requests,
		TokensThisMin:     l.tokens,
		LedgerTokens:      ledgerTokens,
	}
}

// roll zeroes the counters when the calendar minute has moved on.
func (l *Limiter) roll(now time.Time) {
	minute := now.Truncate(time.Minute)
	if !minute.Equal(l.minute) {
		l.minute = minute
		l.requests = 0
		l.tokens = 0
	}
}

// evict drops ledger observations older than the window.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-ledgerWindow)
	i := 0
	for i < len(l.ledger) && l.ledger[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.ledger = append(l.ledger[:0], l.ledger[i:]...)
	}
}

// effectiveRPM keeps two requests of headroom under the published limit so
// a second client on the same key does not trip the provider.
func (l *Limiter) effectiveRPM() int {
	rpm := l.limits.RequestsPerMinute - 2
	if rpm < 1 {
		rpm = 1
	}
	return rpm
}

// effectiveTPM holds back a token buffer scaled to the quota size.
func (l *Limiter) effectiveTPM() int {
	tpm := l.limits.TokensPerMinute - tokenBuffer(l.limits.TokensPerMinute)
	if tpm < minEstimate {
		tpm = minEstimate
	}
	return tpm
}

func tokenBuffer(tpm int) int {
	switch {
	case tpm >= 100000:
		return 2000
	case tpm >= 10000:
		return 1000
	default:
		return 500
	}
}

// waitUntil sleeps to the deadline in one-second steps, surfacing the
// remaining time through onWait before each step.
func (l *Limiter) waitUntil(ctx context.Context, deadline time.Time) error {
	for {
		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return nil
		}

		l.mu.Lock()
		onWait := l.onWait
		l.mu.Unlock()
		if onWait != nil {
			onWait(remaining)
		}

		step := time.Second
		if remaining < step {
			step = remaining
		}
		if err := l.sleep(ctx, step); err != nil {
			return err
		}
	}
}

func (l *Limiter) sleepReal(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait aborted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

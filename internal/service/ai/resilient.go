package ai

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"
)

const (
	maxAttempts = 3
	baseDelay   = 2 * time.Second

	// HighDemandMessage is returned in place of an error once the quota
	// retry budget is exhausted.
	HighDemandMessage = "I'm currently experiencing high demand. Please try again in a few moments. This helps me provide the best service to everyone."
)

// Sleeper abstracts the backoff wait so tests can observe delays without
// wall-clock sleeps and so a caller deadline can interrupt the wait.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type clockSleeper struct{}

func (clockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Resilient retries quota failures with exponential backoff and jitter:
// up to 3 attempts, 2s base delay doubling per attempt, plus a uniform
// [0,1)s jitter. Non-quota errors abort immediately.
type Resilient struct {
	inner   Generator
	sleeper Sleeper
}

// NewResilient wraps a generator. A nil sleeper selects the real clock.
func NewResilient(inner Generator, sleeper Sleeper) *Resilient {
	if sleeper == nil {
		sleeper = clockSleeper{}
	}
	return &Resilient{inner: inner, sleeper: sleeper}
}

// Generate runs the wrapped generator under the retry policy. Quota
// exhaustion degrades to HighDemandMessage rather than an error; any
// other failure is surfaced with the underlying message attached.
func (r *Resilient) Generate(ctx context.Context, prompt string) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		text, err := r.inner.Generate(ctx, prompt)
		if err == nil {
			return text, nil
		}

		if !IsQuotaError(err) {
			return "", fmt.Errorf("generation failed: %w", err)
		}

		if attempt == maxAttempts-1 {
			log.Printf("[ai] quota retry budget exhausted after %d attempts", maxAttempts)
			return HighDemandMessage, nil
		}

		delay := backoffDelay(attempt)
		log.Printf("[ai] rate limit hit, retrying in %s (attempt %d/%d)", delay.Round(100*time.Millisecond), attempt+1, maxAttempts)
		if err := r.sleeper.Sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("generation aborted during backoff: %w", err)
		}
	}

	return "", fmt.Errorf("generation failed: retry loop exited unexpectedly")
}

// backoffDelay is baseDelay * 2^attempt plus uniform [0,1)s jitter.
func backoffDelay(attempt int) time.Duration {
	exponential := baseDelay * time.Duration(1<<attempt)
	jitter := time.Duration(rand.Float64() * float64(time.Second))
	return exponential + jitter
}

// IsQuotaError classifies an error as quota/rate-limit exhaustion by the
// markers the upstream APIs embed in their error text.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate")
}

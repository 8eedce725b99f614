package model

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	adkmodel "google.golang.org/adk/model"
)

// StatusError is a non-200 reply from a provider API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// RetryPolicy configures exponential backoff between attempts.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2
	}
	return p
}

// RetryLLM retries transient provider failures. A call is retried only if
// it failed before yielding any response.
type RetryLLM struct {
	inner  adkmodel.LLM
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration)
}

var _ adkmodel.LLM = (*RetryLLM)(nil)

func NewRetryLLM(inner adkmodel.LLM, policy RetryPolicy) *RetryLLM {
	return &RetryLLM{inner: inner, policy: policy.withDefaults(), sleep: sleepCtx}
}

func (r *RetryLLM) Name() string { return r.inner.Name() }

func (r *RetryLLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		for attempt := 0; ; attempt++ {
			yielded := false
			var failure error
			for resp, err := range r.inner.GenerateContent(ctx, req, stream) {
				if err != nil {
					failure = err
					break
				}
				yielded = true
				if !yield(resp, nil) {
					return
				}
			}
			if failure == nil {
				return
			}
			if yielded || attempt >= r.policy.MaxRetries || ctx.Err() != nil || !isRetryable(failure) {
				yield(nil, failure)
				return
			}
			delay := backoff(r.policy, attempt)
			logFrom(ctx).Info("retrying model call", "provider", r.inner.Name(), "attempt", attempt+1, "delay", delay, "err", failure)
			r.sleep(ctx, delay)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// backoff computes the delay before retry number attempt+1.
func backoff(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"rate limit", "too many requests", "connection reset", "connection refused",
		"eof", "overloaded", "unavailable",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

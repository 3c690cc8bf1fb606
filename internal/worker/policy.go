package worker

import (
	"errors"
	"time"

	"bankfeed/internal/syncer"
	"bankfeed/internal/webhook"
)

// RetryPolicy is the backoff schedule a queue's failures follow. One policy
// object per pool, consumed uniformly, instead of ad hoc delays per call site.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 30 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Minute
	}
	return p
}

// NextDelay returns the backoff before the attempt following the given one:
// base doubled per attempt, capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	p = p.withDefaults()
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// DefaultPermanent classifies failures that retrying cannot fix: revoked
// credentials, disabled or missing connections, unverifiable webhook bodies.
func DefaultPermanent(err error) bool {
	return syncer.Permanent(err) ||
		errors.Is(err, webhook.ErrMalformedPayload) ||
		errors.Is(err, webhook.ErrUnknownConnection)
}

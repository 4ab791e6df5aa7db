package sync

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	maxRetries = 5
	baseDelay  = 3 * time.Second
	maxDelay   = 5 * time.Minute
	// batchDelay spaces continuation rounds of a multi-page sync so a
	// large backlog does not hammer the API.
	batchDelay = 3 * time.Second
)

// RetryController tracks consecutive failures of a sync stage and computes
// the next backoff delay. A successful round resets the attempt counter.
type RetryController struct {
	attempts int
	rand     *rand.Rand
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRetryController() *RetryController {
	return &RetryController{
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepCtx,
	}
}

// Attempts returns the number of consecutive failures recorded so far.
func (r *RetryController) Attempts() int { return r.attempts }

// Exhausted reports whether the failure budget is spent.
func (r *RetryController) Exhausted() bool { return r.attempts >= maxRetries }

// Reset clears the failure counter after a successful round.
func (r *RetryController) Reset() { r.attempts = 0 }

// NextDelay records a failure and returns the delay before the next attempt:
// exponential from the base, capped, with ±20% jitter. When the classified
// error carries its own hint (rate limiting), the larger of the two wins.
func (r *RetryController) NextDelay(ce *ClassifiedError) time.Duration {
	r.attempts++

	d := time.Duration(float64(baseDelay) * math.Pow(2, float64(r.attempts-1)))
	if d > maxDelay {
		d = maxDelay
	}
	if ce != nil && ce.RetryAfter > d {
		d = ce.RetryAfter
	}

	jitter := 1 + (r.rand.Float64()*0.4 - 0.2)
	d = time.Duration(float64(d) * jitter)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// Wait sleeps for d, returning early if ctx is cancelled.
func (r *RetryController) Wait(ctx context.Context, d time.Duration) error {
	return r.sleep(ctx, d)
}

// WaitBetweenBatches applies the fixed inter-round pacing delay.
func (r *RetryController) WaitBetweenBatches(ctx context.Context) error {
	return r.sleep(ctx, batchDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/guestbook/internal/backend/imageprocessing"
	"github.com/jo-hoe/guestbook/internal/common"
)

// ErrVerifyTimeout is returned when image verification exceeds its deadline.
var ErrVerifyTimeout = errors.New("image verification timed out")

// verifier runs image verification on its own goroutine under a deadline.
// At most cap(sem) verifications run at once, including abandoned ones.
type verifier struct {
	sem     chan struct{}
	timeout time.Duration
	metrics *common.Metrics
}

func newVerifier(maxConcurrent int, timeout time.Duration, metrics *common.Metrics) *verifier {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &verifier{
		sem:     make(chan struct{}, maxConcurrent),
		timeout: timeout,
		metrics: metrics,
	}
}

// Run executes fn and waits for its result or the deadline. fn must not
// mutate shared state: once Run has returned, its result is dropped.
func (v *verifier) Run(ctx context.Context, fn func(context.Context) imageprocessing.Result) (imageprocessing.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	if ctx.Err() != nil {
		return imageprocessing.Result{}, deadlineError(ctx, "before verification")
	}

	select {
	case v.sem <- struct{}{}:
	case <-ctx.Done():
		return imageprocessing.Result{}, deadlineError(ctx, "waiting for a verification slot")
	}

	// buffered so a late worker never blocks on send
	done := make(chan imageprocessing.Result, 1)
	v.metrics.VerificationsInFlight.Inc()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("image verification panicked", "panic", r)
				done <- imageprocessing.Result{
					Reason: imageprocessing.ReasonDecodeFailed,
					Err:    fmt.Errorf("verification panicked: %v", r),
				}
			}
			v.metrics.VerificationsInFlight.Dec()
			<-v.sem
		}()
		done <- fn(ctx)
	}()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return imageprocessing.Result{}, deadlineError(ctx, "verifying image")
	}
}

func deadlineError(ctx context.Context, stage string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", stage, ErrVerifyTimeout)
	}
	return fmt.Errorf("%s: %w", stage, ctx.Err())
}

package push

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"notifyengine/pkg/circuitbreaker"
	"notifyengine/pkg/metrics"
)

// GuardedTransport rate-limits sends and stops calling the gateway while it
// keeps failing.
type GuardedTransport struct {
	next    Transport
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedTransport wraps next. ratePerSec <= 0 disables the limiter.
func NewGuardedTransport(next Transport, ratePerSec int, cb circuitbreaker.Config) *GuardedTransport {
	if cb.IsFailure == nil {
		cb.IsFailure = CountsAgainstGateway
	}
	g := &GuardedTransport{
		next:    next,
		breaker: circuitbreaker.NewCircuitBreaker(cb),
	}
	if ratePerSec > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return g
}

func (g *GuardedTransport) Send(ctx context.Context, msg Message) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return NewError(CodeRateLimited, err)
		}
	}

	start := time.Now()
	err := g.breaker.Execute(func() error {
		return g.next.Send(ctx, msg)
	})
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.RecordPushLatency(status, time.Since(start))

	if err != nil {
		return Classify(err)
	}
	return nil
}

// BreakerState exposes the breaker for health reporting.
func (g *GuardedTransport) BreakerState() circuitbreaker.State {
	return g.breaker.State()
}

// CountsAgainstGateway reports whether err says something about gateway
// health. Per-device failures do not trip the breaker.
func CountsAgainstGateway(err error) bool {
	if err == nil {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case CodeUnregisteredToken, CodeNoDeliveryTarget, CodeInvalidRequest:
			return false
		}
	}
	return true
}

package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "ledger_settlement_breaker_state",
	Help: "Settlement circuit breaker state (0 closed, 1 half-open, 2 open)",
}, []string{"name"})

type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "settlement",
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker stops submitting to a network that keeps failing. A rejected
// submission never reached the network, so it is reported as SubmissionFailed
// and the withdrawal is compensated instead of being left pending.
type Breaker struct {
	next    Network
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewBreaker(next Network, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	b := &Breaker{next: next, logger: logger}
	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("settlement breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	breakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))
	return b
}

func (b *Breaker) IsValidAddress(address string) bool {
	return b.next.IsValidAddress(address)
}

func (b *Breaker) SubmitPayment(ctx context.Context, destination string, amount decimal.Decimal, idempotencyKey string) (Receipt, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.SubmitPayment(ctx, destination, amount, idempotencyKey)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.Warn("settlement submission rejected by breaker",
			zap.String("idempotency_key", idempotencyKey),
			zap.Error(err))
		return Receipt{Status: SubmissionFailed}, nil
	}
	if err != nil {
		return Receipt{}, err
	}
	return res.(Receipt), nil
}

func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

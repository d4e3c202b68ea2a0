package outcome

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Notifier receives every dispatched outcome.
type Notifier interface {
	Notify(ctx context.Context, o Outcome) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, o Outcome) error

func (f NotifierFunc) Notify(ctx context.Context, o Outcome) error {
	return f(ctx, o)
}

// Dispatcher fans an outcome out to its notifiers in registration order.
// Ledger state is committed before dispatch, so a failing notifier is logged
// and skipped.
type Dispatcher struct {
	notifiers []Notifier
	logger    *zap.Logger
}

func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, o Outcome) {
	if o.IsNone() {
		return
	}
	for i, n := range d.notifiers {
		if err := d.notify(ctx, n, o); err != nil {
			d.logger.Error("notifier failed",
				zap.Int("notifier", i),
				zap.String("outcome", string(o.Kind)),
				zap.String("idempotency_key", o.IdempotencyKey),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) notify(ctx context.Context, n Notifier, o Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return n.Notify(ctx, o)
}

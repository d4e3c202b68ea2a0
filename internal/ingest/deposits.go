// Package ingest feeds deposit events observed on the network into the
// ledger. Events arrive on a Redis stream written by the network watcher and
// are consumed through a consumer group, so several ledger instances can
// share the work.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/outcome"
)

// EventField is the stream entry field holding the JSON encoded event.
const EventField = "event"

var depositEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_deposit_events_total",
	Help: "Deposit stream entries consumed, labeled by result",
}, []string{"result"})

type DepositProcessor interface {
	ProcessDeposit(ctx context.Context, ev domain.DepositEvent) outcome.Outcome
}

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	Block    time.Duration
}

// DepositConsumer reads deposit events and acknowledges each one after the
// processor has handled it. Entries whose processing failed stay pending in
// the group and are retried from the backlog on the next start.
type DepositConsumer struct {
	client    redis.UniversalClient
	conf      ConsumerConfig
	processor DepositProcessor
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewDepositConsumer(client redis.UniversalClient, conf ConsumerConfig, processor DepositProcessor, logger *zap.Logger) *DepositConsumer {
	if conf.Count <= 0 {
		conf.Count = 32
	}
	if conf.Block <= 0 {
		conf.Block = 2 * time.Second
	}
	return &DepositConsumer{
		client:    client,
		conf:      conf,
		processor: processor,
		validate:  validator.New(),
		logger:    logger.With(zap.String("stream", conf.Stream), zap.String("group", conf.Group)),
	}
}

// Setup creates the stream and the consumer group if they do not exist.
func (c *DepositConsumer) Setup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.conf.Stream, c.conf.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run consumes until ctx is done: first this consumer's pending backlog,
// then new entries.
func (c *DepositConsumer) Run(ctx context.Context) error {
	if err := c.Setup(ctx); err != nil {
		return err
	}
	c.logger.Info("deposit consumer started", zap.String("consumer", c.conf.Consumer))

	if _, err := c.consume(ctx, "0"); err != nil && ctx.Err() == nil {
		c.logger.Error("replay pending deposits", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("deposit consumer stopped")
			return nil
		default:
		}

		if _, err := c.ConsumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("deposit consumer stopped")
				return nil
			}
			c.logger.Error("read deposit stream", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ConsumeOnce reads one batch of new entries, blocking up to the configured
// duration, and returns how many were acknowledged.
func (c *DepositConsumer) ConsumeOnce(ctx context.Context) (int, error) {
	return c.consume(ctx, ">")
}

func (c *DepositConsumer) consume(ctx context.Context, start string) (int, error) {
	args := &redis.XReadGroupArgs{
		Group:    c.conf.Group,
		Consumer: c.conf.Consumer,
		Streams:  []string{c.conf.Stream, start},
		Count:    c.conf.Count,
		Block:    c.conf.Block,
	}
	if start != ">" {
		// backlog reads return immediately
		args.Block = -1
	}
	streams, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var acked []string
	for _, s := range streams {
		for _, msg := range s.Messages {
			if c.handle(ctx, msg) {
				acked = append(acked, msg.ID)
			}
		}
	}
	if len(acked) == 0 {
		return 0, nil
	}
	if err := c.client.XAck(ctx, c.conf.Stream, c.conf.Group, acked...).Err(); err != nil {
		return 0, fmt.Errorf("ack deposits: %w", err)
	}
	return len(acked), nil
}

// handle processes one entry and reports whether it may be acknowledged.
// Malformed entries are acknowledged and dropped.
func (c *DepositConsumer) handle(ctx context.Context, msg redis.XMessage) bool {
	logger := c.logger.With(zap.String("entry_id", msg.ID))

	ev, err := c.decode(msg)
	if err != nil {
		logger.Warn("dropping malformed deposit event", zap.Error(err))
		depositEvents.WithLabelValues("malformed").Inc()
		return true
	}

	o := c.processor.ProcessDeposit(ctx, ev)
	if o.Kind == outcome.ProcessingFailed {
		logger.Warn("deposit left pending for retry", zap.String("transaction_id", ev.TransactionID))
		depositEvents.WithLabelValues("retry").Inc()
		return false
	}

	result := string(o.Kind)
	if o.IsNone() {
		result = "duplicate"
	}
	depositEvents.WithLabelValues(result).Inc()
	return true
}

func (c *DepositConsumer) decode(msg redis.XMessage) (domain.DepositEvent, error) {
	var ev domain.DepositEvent
	raw, ok := msg.Values[EventField].(string)
	if !ok {
		return ev, fmt.Errorf("missing %q field", EventField)
	}
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	if err := c.validate.Struct(ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// PublishDeposit appends ev to stream in the format DepositConsumer reads.
func PublishDeposit(ctx context.Context, client redis.UniversalClient, stream string, ev domain.DepositEvent) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{EventField: string(payload)},
	}).Result()
}

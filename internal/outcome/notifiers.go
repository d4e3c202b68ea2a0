package outcome

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogNotifier writes each outcome as a structured log line.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, o Outcome) error {
	fields := []zap.Field{
		zap.String("outcome", string(o.Kind)),
		zap.String("adapter", o.Adapter),
		zap.String("source_id", o.SourceID),
		zap.String("target_id", o.TargetID),
		zap.String("amount", o.Amount),
		zap.String("idempotency_key", o.IdempotencyKey),
	}
	if o.Address != "" {
		fields = append(fields, zap.String("address", o.Address))
	}
	if o.Reference != "" {
		fields = append(fields, zap.String("reference", o.Reference))
	}
	if o.TransferID != nil {
		fields = append(fields, zap.Stringer("transfer_id", o.TransferID))
	}

	if o.Failed() {
		n.logger.Warn("request outcome", fields...)
	} else {
		n.logger.Info("request outcome", fields...)
	}
	return nil
}

// MetricsNotifier counts outcomes by adapter and kind.
type MetricsNotifier struct {
	outcomes *prometheus.CounterVec
}

func NewMetricsNotifier(reg prometheus.Registerer) (*MetricsNotifier, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_outcomes_total",
		Help: "Processed requests, labeled by adapter and outcome",
	}, []string{"adapter", "outcome"})
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return &MetricsNotifier{outcomes: c}, nil
}

func (n *MetricsNotifier) Notify(_ context.Context, o Outcome) error {
	n.outcomes.WithLabelValues(o.Adapter, string(o.Kind)).Inc()
	return nil
}

// RedisNotifier publishes outcomes as JSON on a per-adapter channel
// ("<prefix>:<adapter>") that the chat adapters subscribe to.
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNotifier(client redis.UniversalClient, prefix string) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: prefix}
}

func (n *RedisNotifier) Channel(adapter string) string {
	return fmt.Sprintf("%s:%s", n.prefix, adapter)
}

func (n *RedisNotifier) Notify(ctx context.Context, o Outcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.Channel(o.Adapter), payload).Err(); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes alerts to two topics: operational alerts (low
// stock, admin) and order lifecycle events. Writes are synchronous with a
// short timeout; a failed write is logged and dropped.
type KafkaNotifier struct {
	alerts *kafka.Writer
	events *kafka.Writer
	log    *slog.Logger
}

func NewKafkaNotifier(brokers []string, alertTopic, eventTopic string, log *slog.Logger) *KafkaNotifier {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  3,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return &KafkaNotifier{
		alerts: newWriter(alertTopic),
		events: newWriter(eventTopic),
		log:    log,
	}
}

func (n *KafkaNotifier) publish(ctx context.Context, w *kafka.Writer, key string, payload any) {
	value, err := json.Marshal(payload)
	if err != nil {
		n.log.Error("marshal notification", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		n.log.Error("publish notification",
			slog.String("topic", w.Topic),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (n *KafkaNotifier) EmitLowStock(ctx context.Context, alert LowStockAlert) {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}
	key := fmt.Sprintf("low_stock:%d:%s", alert.ProductID, alert.VariantKey)
	n.publish(ctx, n.alerts, key, alert)
}

func (n *KafkaNotifier) EmitAdminAlert(ctx context.Context, alert AdminAlert) {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}
	n.publish(ctx, n.alerts, "admin:"+alert.Kind, alert)
}

func (n *KafkaNotifier) EmitOrderEvent(ctx context.Context, event OrderEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	// keyed by order so deliveries for one order stay ordered per partition
	n.publish(ctx, n.events, fmt.Sprintf("order:%d", event.OrderID), event)
}

func (n *KafkaNotifier) Close() error {
	if err := n.alerts.Close(); err != nil {
		return err
	}
	return n.events.Close()
}

package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"aurum-outbox/internal/common/tracing"
	"aurum-outbox/internal/outbox"
)

var tracer = otel.Tracer("aurum-outbox/outbox/publisher")

// KafkaPublisher publishes outbox messages to Kafka via segmentio/kafka-go,
// keyed by subject so each destination gets its own writer (and therefore
// its own partitioning and in-flight batch), and wrapped in a circuit
// breaker so a broker outage fails fast instead of piling up blocked
// relay goroutines.
type KafkaPublisher struct {
	brokers []string

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	breaker *gobreaker.CircuitBreaker
}

// NewKafkaPublisher returns a Publisher backed by the given broker addresses
// (host:port entries, e.g. KAFKA_BROKERS already split on commas).
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	p := &KafkaPublisher{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-kafka-publisher",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return p
}

func (p *KafkaPublisher) writerFor(subject string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[subject]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        subject,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	p.writers[subject] = w
	return w
}

// Publish sends msg to the topic named by msg.Subject, keyed by
// msg.MessageID so Kafka's own dedup-adjacent ordering guarantees hold per
// message identity.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) (err error) {
	ctx, endSpan := tracing.Start(ctx, tracer, "outbox.Publisher.Publish",
		attribute.String("subject", msg.Subject),
		attribute.String("message_id", msg.MessageID),
	)
	defer func() { endSpan(err) }()

	w := p.writerFor(msg.Subject)

	_, err = p.breaker.Execute(func() (any, error) {
		writeErr := w.WriteMessages(ctx, kafka.Message{
			Key:   []byte(msg.MessageID),
			Value: msg.Body,
			Headers: []kafka.Header{
				{Key: "event_type_full_name", Value: []byte(msg.EventTypeName)},
				{Key: "correlation_id", Value: []byte(msg.CorrelationID)},
				{Key: "content_type", Value: []byte(msg.ContentType)},
			},
		})
		return nil, writeErr
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open: %v", outbox.ErrTransientPublish, err)
	}
	if isTransientKafkaError(err) {
		return fmt.Errorf("%w: %v", outbox.ErrTransientPublish, err)
	}
	return fmt.Errorf("%w: %v", outbox.ErrPermanentPublish, err)
}

// Close releases all writers. Call during graceful shutdown.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// isTransientKafkaError classifies kafka-go/network errors that are worth
// retrying: connection resets, timeouts, and the broker's own "not leader"
// / "leader not available" responses that clear up once metadata refreshes.
func isTransientKafkaError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	switch {
	case errors.Is(err, kafka.LeaderNotAvailable),
		errors.Is(err, kafka.NotLeaderForPartition),
		errors.Is(err, kafka.RequestTimedOut),
		errors.Is(err, kafka.NetworkException),
		errors.Is(err, kafka.BrokerNotAvailable):
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "i/o timeout")
}

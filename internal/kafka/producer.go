package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-resto-orders/internal/logging"
)

type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start runs the write loop until the inbox is closed. Pending messages are
// flushed before the writer closes.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.WithoutCancel(ctx), m); err != nil {
				logging.Error(ctx, "kafka write failed", err,
					zap.String("topic", p.w.Topic), zap.ByteString("key", m.Key))
			}
		}
		if err := p.w.Close(); err != nil {
			logging.Error(ctx, "kafka writer close failed", err, zap.String("topic", p.w.Topic))
		}
	}()
}

// Publish enqueues a message, injecting the trace context of ctx into its
// headers. It never blocks. A full inbox or a closed producer drops the
// message and reports false.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) bool {
	carrier := HeaderCarrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: carrier,
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		logging.Warn(ctx, "kafka producer closed, message dropped", zap.String("topic", p.w.Topic))
		return false
	}
	select {
	case p.inbox <- m:
		return true
	default:
		logging.Warn(ctx, "kafka inbox full, message dropped", zap.String("topic", p.w.Topic))
		return false
	}
}

// Close closes the inbox so the loop flushes and exits. Later publishes are
// dropped. It is safe to call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

func (p *Producer) WaitClosed() { <-p.closeCh }

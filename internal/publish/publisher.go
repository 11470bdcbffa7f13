// Package publish mirrors run events to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// DefaultQueueSize is how many events may wait for the broker before new
// ones are dropped.
const DefaultQueueSize = 1024

// Ensure Publisher implements events.Sink.
var _ events.Sink = (*Publisher)(nil)

// Config configures the Kafka event publisher.
type Config struct {
	Brokers   []string
	Topic     string
	QueueSize int // 0 = DefaultQueueSize
	Logger    *slog.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes every event envelope to a Kafka topic, keyed by run id so
// the events of one run stay ordered within a partition.
type Publisher struct {
	writer messageWriter
	log    *slog.Logger
	queue  chan events.Envelope

	mu     sync.Mutex
	closed bool

	done    chan struct{}
	dropped uint64
}

// New constructs a Publisher using the supplied configuration.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
	}

	return newPublisher(writer, cfg.QueueSize, cfg.Logger), nil
}

func newPublisher(writer messageWriter, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	p := &Publisher{
		writer: writer,
		log:    util.OrDefault(logger).With("component", "publish"),
		queue:  make(chan events.Envelope, queueSize),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// Emit queues e for publishing. It never blocks: when the broker falls
// behind, events are dropped.
func (p *Publisher) Emit(e events.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- e:
	default:
		p.dropped++
		if p.dropped == 1 || p.dropped%100 == 0 {
			p.log.Warn("kafka publisher falling behind, dropping events", "dropped", p.dropped)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Publisher) loop() {
	defer close(p.done)
	for e := range p.queue {
		if err := p.publish(context.Background(), e); err != nil {
			p.log.Warn("failed to publish event", "run", e.RunID, "seq", e.Seq, "err", err)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, e events.Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(e.RunID),
		Value: payload,
		Time:  e.Time,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(e.Event.Kind())},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes queued events, waiting at most until ctx is done, and
// releases the underlying Kafka writer.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		p.log.Warn("closing kafka publisher with events still queued")
	}
	return p.writer.Close()
}

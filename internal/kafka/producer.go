package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrProducerClosed = errors.New("producer closed")

type Producer struct {
	w     *kafka.Writer
	log   *zap.Logger
	inbox chan kafka.Message

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	p := &Producer{
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true, // throughput first; failures surface through Completion
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.log.Error("kafka write failed", zap.String("topic", topic), zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return p
}

// Start runs the writer loop until Close is called or ctx ends; either way
// whatever is already queued gets flushed first.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.stopped)
		for {
			select {
			case <-ctx.Done():
				p.flush()
				return
			case <-p.done:
				p.flush()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) flush() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Warn("kafka writer close", zap.Error(err))
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka enqueue failed", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

// Publish queues a message. It blocks while the inbox is full, up to ctx.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}
	select {
	case <-p.done:
		return ErrProducerClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.done:
		return ErrProducerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages and asks the loop to flush. Safe to call
// more than once.
func (p *Producer) Close() { p.closeOnce.Do(func() { close(p.done) }) }

// WaitClosed blocks until the loop has flushed and closed the writer.
func (p *Producer) WaitClosed() { <-p.stopped }

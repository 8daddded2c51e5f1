// Package kafkago provides a Kafka transport backed by segmentio/kafka-go.
// It writes through a single kafka.Writer with least-bytes balancing.
package kafkago

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/segmentio/kafka-go"

	"github.com/suoke-life/messagebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafkago"

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("kafkago: publisher closed")

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterFactory allows overriding the writer creation for testing.
var WriterFactory = func(brokers []string) MessageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		BatchBytes:             transport.KafkaGoCapabilities.MaxMessageSize,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaGoCapabilities)
}

// Build creates a kafka-go backed publisher.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, fmt.Errorf("at least one Kafka broker address is required")
	}
	logger.Info("Creating kafka-go publisher", watermill.LogFields{"brokers": brokers})
	return transport.Transport{Publisher: NewPublisher(WriterFactory(brokers), logger)}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaGoCapabilities
}

// Publisher adapts a kafka-go writer to watermill's message.Publisher.
type Publisher struct {
	writer MessageWriter
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewPublisher wraps writer.
func NewPublisher(writer MessageWriter, logger watermill.LoggerAdapter) *Publisher {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Publisher{writer: writer, logger: logger}
}

// Publish writes msgs to topic. The first message's context bounds the write.
// The watermill UUID becomes the record key so one message id always lands
// on one partition.
func (p *Publisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if len(msgs) == 0 {
		return nil
	}

	records := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		records = append(records, toRecord(topic, msg))
	}

	if err := p.writer.WriteMessages(msgs[0].Context(), records...); err != nil {
		return fmt.Errorf("write to kafka topic %q: %w", topic, err)
	}
	p.logger.Trace("Messages written", watermill.LogFields{"topic": topic, "count": len(records)})
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

func toRecord(topic string, msg *message.Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Metadata))
	for key, value := range msg.Metadata {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(msg.UUID),
		Value:   msg.Payload,
		Headers: headers,
	}
}

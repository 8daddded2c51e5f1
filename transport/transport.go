// Package transport defines the broker publisher contract of the message bus.
// Each broker implementation (kafka, rabbitmq, aws, etc.) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport carries the broker publisher produced by a builder.
type Transport struct {
	Publisher message.Publisher
}

// Close closes the publisher.
func (t Transport) Close() error {
	if t.Publisher == nil {
		return nil
	}
	return t.Publisher.Close()
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder and registers it.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// Transports see only the settings they need, not the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaClientID() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by publishers that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

package transport

// Capabilities describes what a broker backend guarantees to the publish path.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsOrdering indicates messages published to one partition or
	// stream are delivered in publish order.
	SupportsOrdering bool

	// SupportsPartitioning indicates topics are split into partitions, so
	// a topic's partition_count is meaningful to the broker.
	SupportsPartitioning bool

	// SupportsTracing indicates the transport propagates tracing headers.
	SupportsTracing bool

	// SupportsBatching indicates the publisher batches messages internally.
	SupportsBatching bool

	// SupportsPublishConfirm indicates Publish returns only after the broker
	// acknowledged the message.
	SupportsPublishConfirm bool

	// MaxMessageSize is the largest payload in bytes the broker accepts
	// (0 = unlimited/unknown).
	MaxMessageSize int64
}

// LimitMessageSize returns the smaller of limit and the broker limit. A zero
// broker limit leaves limit unchanged.
func (c Capabilities) LimitMessageSize(limit int64) int64 {
	if c.MaxMessageSize > 0 && (limit <= 0 || c.MaxMessageSize < limit) {
		return c.MaxMessageSize
	}
	return limit
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:                   "channel",
		SupportsOrdering:       true,
		SupportsPublishConfirm: true,
	}

	// KafkaCapabilities for the sarama based Kafka transport. MaxMessageSize
	// matches the producer's MaxMessageBytes set by the transport.
	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsOrdering:       true,
		SupportsPartitioning:   true,
		SupportsTracing:        true,
		SupportsPublishConfirm: true,
		MaxMessageSize:         10 << 20,
	}

	// KafkaGoCapabilities for the segmentio/kafka-go writer transport.
	KafkaGoCapabilities = Capabilities{
		Name:                   "kafkago",
		SupportsOrdering:       true,
		SupportsPartitioning:   true,
		SupportsBatching:       true,
		SupportsPublishConfirm: true,
		MaxMessageSize:         10 << 20,
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsOrdering:       true,
		SupportsTracing:        true,
		SupportsPublishConfirm: true,
	}

	// NATSCapabilities for the NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // server default max_payload
	}

	// AWSCapabilities for the AWS SNS transport.
	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsTracing:        true,
		SupportsPublishConfirm: true,
		MaxMessageSize:         262144, // 256KB
	}

	// HTTPCapabilities for the HTTP webhook transport.
	HTTPCapabilities = Capabilities{
		Name:                   "http",
		SupportsTracing:        true,
		SupportsPublishConfirm: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Unknown transports report a zero Capabilities with only Name set.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}

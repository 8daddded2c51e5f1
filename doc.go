// Package messagebus is the publish side of a message bus. Callers hand it a
// logical topic, a payload and optional string attributes; it validates the
// request, stamps a time-ordered message ID and the publisher identity onto
// the message, and forwards it to the configured broker through Watermill.
//
// Topics are registered before use. Their metadata lives in a TopicStore
// (in memory, SQLite or PostgreSQL) and publishing to an unknown topic fails
// without touching the broker.
//
// # Transports
//
// The broker is selected by Config.PubSubSystem:
//   - kafka: Sarama based Watermill publisher
//   - kafkago: segmentio/kafka-go writer
//   - rabbitmq: durable AMQP exchange with publisher confirms
//   - nats: core NATS
//   - aws: SNS topics, with LocalStack support
//   - http: POST to a base URL with the topic appended
//   - channel: in process, for tests and local development
//
// Each transport reports Capabilities; the smallest message size limit between
// the configuration and the broker wins.
//
// # Failure handling
//
// Broker sends are guarded by a circuit breaker. After BreakerThreshold
// consecutive failures the breaker opens, publishes fail fast with a retry
// hint, and the health check reports NOT_SERVING until BreakerCooldown has
// passed and a trial publish succeeds.
//
// Every failure is an *Error carrying a Code. The gRPC layer converts it into
// a status with an ErrorInfo detail whose reason is the code.
//
// # Running the server
//
// LoadConfig reads MESSAGEBUS_* environment variables. Serve hosts the
// MessageBusService, the standard grpc.health.v1 service and, when enabled, a
// Prometheus /metrics endpoint:
//
//	conf, err := messagebus.LoadConfig()
//	if err != nil {
//		return err
//	}
//	return messagebus.Serve(ctx, conf, messagebus.NewSlogServiceLogger(slog.Default()))
//
// The cmd/messagebus binary wraps the same entry point.
package messagebus

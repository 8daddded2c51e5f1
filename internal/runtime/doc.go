/*
Package runtime implements the message bus service.

# Package Structure

## Service (service.go)

Service owns the topic store, the broker publisher and the circuit breaker.
Its operations validate a request, consult the topic store and hand messages
to the repository. Every operation runs inside an OpenTelemetry span and
returns *errors.Error values with a stable Code.

## Validation (validation.go)

Requests are validated with go-playground/validator. The "topicname" tag
accepts Kafka's legal characters and rejects names that would exceed the
broker limit once the configured prefix is applied.

## Topic store (store.go)

OpenTopicStore selects the memory, SQLite or PostgreSQL implementation from
the configuration.

# Sub-packages

  - breaker: per-key consecutive failure circuit breaker
  - config: environment driven configuration
  - errors: error codes, severities and the gRPC status mapping
  - ids: ULID message identifiers
  - jsoncodec: sonic backed JSON encoding
  - logging: slog and Watermill logger adapters
  - metadata: message header helpers
  - metrics: Prometheus collectors
  - repository: breaker guarded broker publishing
  - topics: topic metadata stores
  - transport: transport selection on top of the modular transport registry
*/
package runtime

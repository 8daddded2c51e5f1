// Package repository hands accepted messages to the broker behind a circuit
// breaker.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/suoke-life/messagebus/internal/runtime/errors"
	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
	metadatapkg "github.com/suoke-life/messagebus/internal/runtime/metadata"
	metricspkg "github.com/suoke-life/messagebus/internal/runtime/metrics"
)

const (
	// DefaultBreakerKey guards the broker dependency.
	DefaultBreakerKey = "broker"
	// DefaultSendTimeout bounds a single broker send.
	DefaultSendTimeout = 5 * time.Second

	tracerName = "github.com/suoke-life/messagebus/internal/runtime/repository"
)

// ErrSendTimeout is reported when the broker did not acknowledge in time. It
// matches context.DeadlineExceeded.
var ErrSendTimeout = fmt.Errorf("repository: broker send timeout: %w", context.DeadlineExceeded)

// Message is an accepted message. It is never modified after creation.
type Message struct {
	ID          string
	Topic       string
	Payload     []byte
	Attributes  map[string]string
	PublishTime time.Time
	PublisherID string
}

// Breaker is the circuit breaker contract the repository relies on.
type Breaker interface {
	Allow(key string) error
	Update(key string, success bool)
}

// PublishObserver records broker publish outcomes.
type PublishObserver interface {
	ObservePublish(topic, outcome string, elapsed time.Duration)
}

// Dependencies wires a Repository. Publisher and Breaker are required.
type Dependencies struct {
	Publisher      message.Publisher
	Breaker        Breaker
	Logger         loggingpkg.ServiceLogger
	Metrics        PublishObserver
	TracerProvider trace.TracerProvider

	TopicPrefix string
	SendTimeout time.Duration
	BreakerKey  string
}

// Repository publishes messages and reports whether the broker accepted them.
type Repository struct {
	publisher   message.Publisher
	breaker     Breaker
	logger      loggingpkg.ServiceLogger
	metrics     PublishObserver
	tracer      trace.Tracer
	topicPrefix string
	sendTimeout time.Duration
	breakerKey  string
}

type nopObserver struct{}

func (nopObserver) ObservePublish(string, string, time.Duration) {}

// New validates deps and builds a Repository.
func New(deps Dependencies) (*Repository, error) {
	if deps.Publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if deps.Breaker == nil {
		return nil, errspkg.ErrBreakerRequired
	}
	if deps.Logger == nil {
		deps.Logger = loggingpkg.NewNopServiceLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopObserver{}
	}
	if deps.TracerProvider == nil {
		deps.TracerProvider = otel.GetTracerProvider()
	}
	if deps.SendTimeout <= 0 {
		deps.SendTimeout = DefaultSendTimeout
	}
	if strings.TrimSpace(deps.BreakerKey) == "" {
		deps.BreakerKey = DefaultBreakerKey
	}

	return &Repository{
		publisher:   deps.Publisher,
		breaker:     deps.Breaker,
		logger:      deps.Logger.With(loggingpkg.LogFields{"component": "repository"}),
		metrics:     deps.Metrics,
		tracer:      deps.TracerProvider.Tracer(tracerName),
		topicPrefix: deps.TopicPrefix,
		sendTimeout: deps.SendTimeout,
		breakerKey:  deps.BreakerKey,
	}, nil
}

// PhysicalTopic returns the broker topic name for a logical topic.
func (r *Repository) PhysicalTopic(topic string) string {
	return r.topicPrefix + topic
}

// BreakerKey returns the key the broker is guarded by.
func (r *Repository) BreakerKey() string {
	return r.breakerKey
}

// SaveMessage hands msg to the broker. It returns true once the broker
// acknowledged it. A false result comes with the reason: a breaker.ErrOpen
// rejection, a broker failure, ErrSendTimeout or context.Canceled.
// Everything but the rejection and the cancellation counts against the
// breaker, including an expired caller deadline.
func (r *Repository) SaveMessage(ctx context.Context, msg Message) (bool, error) {
	physical := r.PhysicalTopic(msg.Topic)

	if err := r.breaker.Allow(r.breakerKey); err != nil {
		r.metrics.ObservePublish(msg.Topic, metricspkg.OutcomeRejected, 0)
		r.logger.Debug("Broker send rejected by open circuit", loggingpkg.LogFields{
			"topic":      msg.Topic,
			"message_id": msg.ID,
		})
		return false, err
	}

	ctx, span := r.tracer.Start(ctx, "publish "+physical,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", physical),
			attribute.String("messaging.message.id", msg.ID),
			attribute.Int("messaging.message.body.size", len(msg.Payload)),
		),
	)
	defer span.End()

	wm := message.NewMessage(msg.ID, msg.Payload)
	wm.Metadata = metadatapkg.ToWatermill(metadatapkg.MessageHeaders(
		msg.Attributes, msg.ID, msg.Topic, msg.PublisherID, msg.PublishTime,
	))
	wm.SetContext(ctx)

	started := time.Now()
	err := r.send(ctx, physical, wm)
	elapsed := time.Since(started)

	if err == nil {
		r.breaker.Update(r.breakerKey, true)
		r.metrics.ObservePublish(msg.Topic, metricspkg.OutcomeSuccess, elapsed)
		span.SetStatus(codes.Ok, "")
		r.logger.Debug("Message published", loggingpkg.LogFields{
			"topic":      msg.Topic,
			"message_id": msg.ID,
			"elapsed":    elapsed.String(),
		})
		return true, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	// A caller deadline that expires mid-send is a broker timeout; only an
	// explicit cancellation is the caller walking away.
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		r.logger.Debug("Broker send abandoned by caller", loggingpkg.LogFields{
			"topic":      msg.Topic,
			"message_id": msg.ID,
		})
		return false, ctxErr
	}

	r.breaker.Update(r.breakerKey, false)
	r.metrics.ObservePublish(msg.Topic, metricspkg.OutcomeFailure, elapsed)
	r.logger.Error("Broker send failed", err, loggingpkg.LogFields{
		"topic":      msg.Topic,
		"message_id": msg.ID,
		"elapsed":    elapsed.String(),
	})
	return false, fmt.Errorf("publish to %q: %w", physical, err)
}

// send runs the blocking watermill publish bounded by the send timeout or
// the caller's deadline, whichever is sooner. Both end in ErrSendTimeout. An
// abandoned publish keeps running in the background until the publisher
// returns.
func (r *Repository) send(ctx context.Context, topic string, msg *message.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- r.publisher.Publish(topic, msg)
	}()

	timeout := r.sendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrSendTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrSendTimeout
		}
		return ctx.Err()
	}
}

// Close closes the underlying publisher.
func (r *Repository) Close() error {
	if r == nil || r.publisher == nil {
		return nil
	}
	return r.publisher.Close()
}

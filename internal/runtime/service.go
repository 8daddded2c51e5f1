package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/suoke-life/messagebus/internal/runtime/breaker"
	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
	errspkg "github.com/suoke-life/messagebus/internal/runtime/errors"
	idspkg "github.com/suoke-life/messagebus/internal/runtime/ids"
	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
	metricspkg "github.com/suoke-life/messagebus/internal/runtime/metrics"
	"github.com/suoke-life/messagebus/internal/runtime/repository"
	"github.com/suoke-life/messagebus/internal/runtime/topics"
	transportpkg "github.com/suoke-life/messagebus/internal/runtime/transport"
)

const tracerName = "github.com/suoke-life/messagebus/internal/runtime"

// Clock supplies the server time stamped on topics and messages.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// IDGenerator returns a new message id for a message accepted at t.
type IDGenerator func(t time.Time) string

// PublishRequest is a message submitted by a publisher.
type PublishRequest struct {
	Topic       string `validate:"required,topicname"`
	Payload     []byte
	Attributes  map[string]string
	PublisherID string
}

// CreateTopicRequest describes a topic to create. Zero PartitionCount and
// RetentionHours select the defaults (1 and 24).
type CreateTopicRequest struct {
	Name           string `validate:"required,topicname"`
	Description    string `validate:"max=1024"`
	Properties     map[string]string
	PartitionCount int32 `validate:"gte=1"`
	RetentionHours int32 `validate:"gt=0"`
}

// ServiceDependencies holds the collaborators of a Service. Nil fields are
// built from the configuration.
type ServiceDependencies struct {
	// Store holds topic metadata. Defaults to the store named by
	// Config.TopicStore. The Service closes it on Close.
	Store topics.Store

	// Publisher is the broker publisher. When nil, TransportFactory (or the
	// registry backed default) builds one for Config.PubSubSystem.
	Publisher        message.Publisher
	Capabilities     transportpkg.Capabilities
	TransportFactory transportpkg.Factory

	// Breaker guards the broker. When nil the Service builds one from the
	// config and mirrors its transitions into metrics, logs and health
	// listeners.
	Breaker *breaker.Breaker

	// Metrics defaults to a collector on a private registry.
	Metrics        *metricspkg.Collector
	TracerProvider trace.TracerProvider
	Clock          Clock
	NewID          IDGenerator
}

// Service implements topic lifecycle management and the publish path on top
// of a topic store and a breaker guarded broker repository.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	store        topics.Store
	repo         *repository.Repository
	breaker      *breaker.Breaker
	metrics      *metricspkg.Collector
	tracer       trace.Tracer
	validate     *validator.Validate
	clock        Clock
	newID        IDGenerator
	capabilities transportpkg.Capabilities
	maxMessage   int64

	listenersMu sync.RWMutex
	listeners   []func(healthy bool)

	closeOnce sync.Once
	closeErr  error
}

// NewService is like TryNewService but panics on error.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService constructs a Service. Resources created here are released if
// construction fails.
func TryNewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	log.Info("Creating message bus service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"topic_store":   conf.TopicStore,
		"config":        conf,
	})

	s := &Service{
		Conf:     conf,
		Logger:   log,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		newID:    deps.NewID,
		validate: newRequestValidator(conf.TopicPrefix),
	}
	if s.metrics == nil {
		s.metrics = metricspkg.NewCollector(prometheus.NewRegistry())
	}
	if err := s.metrics.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}
	if s.newID == nil {
		s.newID = idspkg.CreateULIDAt
	}
	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer(tracerName)

	s.breaker = deps.Breaker
	if s.breaker == nil {
		s.breaker = breaker.New(breaker.Config{
			Threshold:     conf.BreakerThreshold,
			Cooldown:      conf.BreakerCooldown,
			Clock:         s.clock,
			OnStateChange: s.breakerChanged,
		})
	}

	var err error
	s.store = deps.Store
	if s.store == nil {
		if s.store, err = OpenTopicStore(ctx, conf); err != nil {
			return nil, err
		}
	}

	tr, err := s.buildTransport(ctx, deps)
	if err != nil {
		_ = s.store.Close()
		return nil, err
	}
	s.capabilities = tr.Capabilities
	s.maxMessage = tr.Capabilities.LimitMessageSize(conf.EffectiveMaxMessageSize())

	publisher, err := s.metrics.DecoratePublisher(tr.Publisher)
	if err != nil {
		_ = tr.Publisher.Close()
		_ = s.store.Close()
		return nil, fmt.Errorf("decorate publisher: %w", err)
	}

	s.repo, err = repository.New(repository.Dependencies{
		Publisher:      publisher,
		Breaker:        s.breaker,
		Logger:         log,
		Metrics:        s.metrics,
		TracerProvider: tp,
		TopicPrefix:    conf.TopicPrefix,
		SendTimeout:    conf.SendTimeout,
	})
	if err != nil {
		_ = publisher.Close()
		_ = s.store.Close()
		return nil, err
	}
	s.breaker.Register(s.repo.BreakerKey())
	s.metrics.SetBreakerOpen(s.repo.BreakerKey(), s.breaker.IsOpen(s.repo.BreakerKey()))

	log.Info("Message bus service ready", loggingpkg.LogFields{
		"transport":        s.capabilities.Name,
		"max_message_size": s.maxMessage,
		"breaker_key":      s.repo.BreakerKey(),
	})
	return s, nil
}

func (s *Service) buildTransport(ctx context.Context, deps ServiceDependencies) (transportpkg.Transport, error) {
	if deps.Publisher != nil {
		return transportpkg.Transport{Publisher: deps.Publisher, Capabilities: deps.Capabilities}, nil
	}
	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return transportpkg.Transport{}, fmt.Errorf("build transport: %w", err)
	}
	if tr.Publisher == nil {
		return transportpkg.Transport{}, errspkg.ErrPublisherRequired
	}
	return tr, nil
}

// Publish validates req, checks the topic exists and hands the message to the
// broker. The broker is never called for a missing topic.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (repository.Message, error) {
	ctx, span := s.startSpan(ctx, "Publish", attribute.String("messaging.destination.name", req.Topic))
	defer span.End()

	msg, err := s.publish(ctx, req)
	endSpan(span, err)
	if err == nil {
		span.SetAttributes(attribute.String("messaging.message.id", msg.ID))
	}
	return msg, err
}

func (s *Service) publish(ctx context.Context, req PublishRequest) (repository.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return repository.Message{}, validationError(err)
	}
	if size := int64(len(req.Payload)); size > s.maxMessage {
		e := errspkg.Validation(fmt.Sprintf("payload of %d bytes exceeds the %d byte limit", size, s.maxMessage))
		return repository.Message{}, e.WithDetails(map[string]string{
			"topic":            req.Topic,
			"payload_size":     fmt.Sprint(size),
			"max_message_size": fmt.Sprint(s.maxMessage),
		})
	}

	if _, err := s.store.GetTopic(ctx, req.Topic); err != nil {
		if errors.Is(err, topics.ErrNotFound) {
			return repository.Message{}, errspkg.TopicNotFound(req.Topic)
		}
		return repository.Message{}, storeFailure(err, errspkg.CodeInternal, "failed to look up topic", req.Topic)
	}

	now := s.clock.Now().UTC()
	publisherID := req.PublisherID
	if publisherID == "" {
		publisherID = AnonymousPublisher
	}
	msg := repository.Message{
		ID:          s.newID(now),
		Topic:       req.Topic,
		Payload:     req.Payload,
		Attributes:  req.Attributes,
		PublishTime: now,
		PublisherID: publisherID,
	}

	ok, err := s.repo.SaveMessage(ctx, msg)
	if !ok {
		e := errspkg.PublishFailed(req.Topic, err)
		var open *breaker.OpenError
		if errors.As(err, &open) {
			e.RetryAfter = open.RetryAfter
			if e.RetryAfter <= 0 {
				e.RetryAfter = time.Second
			}
		}
		return repository.Message{}, e.WithDetails(map[string]string{"message_id": msg.ID})
	}

	s.Logger.Debug("Message accepted", loggingpkg.LogFields{
		"topic":        msg.Topic,
		"message_id":   msg.ID,
		"publisher_id": msg.PublisherID,
		"size":         len(msg.Payload),
	})
	return msg, nil
}

// CreateTopic validates req, applies defaults and stores the topic.
func (s *Service) CreateTopic(ctx context.Context, req CreateTopicRequest) (topics.Topic, error) {
	ctx, span := s.startSpan(ctx, "CreateTopic", attribute.String("messaging.destination.name", req.Name))
	defer span.End()

	if req.PartitionCount == 0 {
		req.PartitionCount = defaultPartitionCount
	}
	if req.RetentionHours == 0 {
		req.RetentionHours = defaultRetentionHours
	}
	if err := s.validate.Struct(req); err != nil {
		e := validationError(err)
		endSpan(span, e)
		return topics.Topic{}, e
	}

	created, err := s.store.CreateTopic(ctx, topics.Topic{
		Name:           req.Name,
		Description:    req.Description,
		Properties:     req.Properties,
		CreatedAt:      s.clock.Now().UTC(),
		PartitionCount: req.PartitionCount,
		RetentionHours: req.RetentionHours,
	})
	if err != nil {
		if errors.Is(err, topics.ErrAlreadyExists) {
			err = errspkg.TopicAlreadyExists(req.Name)
		} else {
			err = storeFailure(err, errspkg.CodeTopicCreationFailed, "failed to create topic", req.Name)
		}
		endSpan(span, err)
		return topics.Topic{}, err
	}

	s.Logger.Info("Topic created", loggingpkg.LogFields{
		"topic":           created.Name,
		"partition_count": created.PartitionCount,
		"retention_hours": created.RetentionHours,
	})
	return created, nil
}

// GetTopic returns the named topic.
func (s *Service) GetTopic(ctx context.Context, name string) (topics.Topic, error) {
	ctx, span := s.startSpan(ctx, "GetTopic", attribute.String("messaging.destination.name", name))
	defer span.End()

	if name == "" {
		e := errspkg.Validation("topic name is required")
		endSpan(span, e)
		return topics.Topic{}, e
	}

	topic, err := s.store.GetTopic(ctx, name)
	if err != nil {
		if errors.Is(err, topics.ErrNotFound) {
			err = errspkg.TopicNotFound(name)
		} else {
			err = storeFailure(err, errspkg.CodeInternal, "failed to get topic", name)
		}
		endSpan(span, err)
		return topics.Topic{}, err
	}
	return topic, nil
}

// ListTopics returns one page of topics ordered by name. pageSize is clamped
// to [1, 100] with 10 as the default.
func (s *Service) ListTopics(ctx context.Context, pageSize int, pageToken string) (topics.Page, error) {
	pageSize = clampPageSize(pageSize)
	ctx, span := s.startSpan(ctx, "ListTopics", attribute.Int("page_size", pageSize))
	defer span.End()

	page, err := s.store.ListTopics(ctx, pageSize, pageToken)
	if err != nil {
		if errors.Is(err, topics.ErrInvalidPageToken) {
			e := errspkg.Validation("invalid page token")
			e.Cause = err
			err = e
		} else {
			err = storeFailure(err, errspkg.CodeInternal, "failed to list topics", "")
		}
		endSpan(span, err)
		return topics.Page{}, err
	}
	span.SetAttributes(attribute.Int("total_count", page.TotalCount))
	return page, nil
}

// DeleteTopic removes the named topic. It reports false without an error when
// the topic did not exist.
func (s *Service) DeleteTopic(ctx context.Context, name string) (bool, error) {
	ctx, span := s.startSpan(ctx, "DeleteTopic", attribute.String("messaging.destination.name", name))
	defer span.End()

	if name == "" {
		e := errspkg.Validation("topic name is required")
		endSpan(span, e)
		return false, e
	}

	deleted, err := s.store.DeleteTopic(ctx, name)
	if err != nil {
		err = storeFailure(err, errspkg.CodeTopicDeletionFailed, "failed to delete topic", name)
		endSpan(span, err)
		return false, err
	}
	if deleted {
		s.Logger.Info("Topic deleted", loggingpkg.LogFields{"topic": name})
	}
	return deleted, nil
}

// Healthy reports whether every monitored dependency breaker is closed.
func (s *Service) Healthy() bool {
	return s.breaker.AllClosed()
}

// Breaker returns the breaker guarding the broker.
func (s *Service) Breaker() *breaker.Breaker {
	return s.breaker
}

// Metrics returns the collector the service records into.
func (s *Service) Metrics() *metricspkg.Collector {
	return s.metrics
}

// Capabilities returns what the configured broker supports.
func (s *Service) Capabilities() transportpkg.Capabilities {
	return s.capabilities
}

// MaxMessageSize returns the effective payload limit in bytes.
func (s *Service) MaxMessageSize() int64 {
	return s.maxMessage
}

// OnHealthChange registers fn to be called with the new health whenever a
// breaker owned by the service opens or closes.
func (s *Service) OnHealthChange(fn func(healthy bool)) {
	if fn == nil {
		return
	}
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) breakerChanged(key string, open bool) {
	s.metrics.SetBreakerOpen(key, open)
	if open {
		s.Logger.Error("Circuit breaker opened", breaker.ErrOpen, loggingpkg.LogFields{
			"key":      key,
			"cooldown": s.breaker.Cooldown().String(),
		})
	} else {
		s.Logger.Info("Circuit breaker closed", loggingpkg.LogFields{"key": key})
	}

	healthy := s.breaker.AllClosed()
	s.listenersMu.RLock()
	listeners := append([]func(bool){}, s.listeners...)
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(healthy)
	}
}

// Close releases the broker publisher and the topic store.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.repo.Close(), s.store.Close())
	})
	return s.closeErr
}

func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "messagebus."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// storeFailure wraps a store error. Connectivity faults keep their own code
// so callers see UNAVAILABLE rather than INTERNAL.
func storeFailure(err error, code errspkg.Code, message, topic string) *errspkg.Error {
	if errspkg.InferCode(err) == errspkg.CodeNetwork {
		code = errspkg.CodeDatabaseConnection
	}
	e := errspkg.Wrap(code, message, err)
	if topic != "" {
		e = e.WithDetails(map[string]string{"topic": topic})
	}
	return e
}

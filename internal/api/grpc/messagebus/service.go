package messagebus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/metadata"

	errspkg "github.com/suoke-life/messagebus/internal/runtime/errors"
	"github.com/suoke-life/messagebus/internal/runtime/repository"
	"github.com/suoke-life/messagebus/internal/runtime/topics"

	runtimepkg "github.com/suoke-life/messagebus/internal/runtime"
)

// Publisher identity metadata keys, in lookup order.
const (
	PublisherIDHeader = "x-publisher-id"
	UserIDHeader      = "user-id"
)

// Bus is the core the adapter delegates to. *runtime.Service implements it.
type Bus interface {
	Publish(ctx context.Context, req runtimepkg.PublishRequest) (repository.Message, error)
	CreateTopic(ctx context.Context, req runtimepkg.CreateTopicRequest) (topics.Topic, error)
	GetTopic(ctx context.Context, name string) (topics.Topic, error)
	ListTopics(ctx context.Context, pageSize int, pageToken string) (topics.Page, error)
	DeleteTopic(ctx context.Context, name string) (bool, error)
	Healthy() bool
}

// Service implements MessageBusServiceServer on top of a Bus. Every failure
// passes through the error handler before it becomes a wire status.
type Service struct {
	bus    Bus
	errors *errspkg.Handler
}

// NewService wires the adapter. A nil handler only converts errors without
// logging or counting them.
func NewService(bus Bus, handler *errspkg.Handler) *Service {
	return &Service{bus: bus, errors: handler}
}

var _ MessageBusServiceServer = (*Service)(nil)

// PublishMessage publishes one message on behalf of the calling publisher.
func (s *Service) PublishMessage(ctx context.Context, in *PublishMessageRequest) (*PublishMessageResponse, error) {
	msg, err := s.bus.Publish(ctx, runtimepkg.PublishRequest{
		Topic:       in.Topic,
		Payload:     in.Payload,
		Attributes:  in.Attributes,
		PublisherID: PublisherIDFromContext(ctx),
	})
	if err != nil {
		message, statusErr := s.fail(ctx, err, "PublishMessage", map[string]string{"topic": in.Topic})
		return &PublishMessageResponse{ErrorMessage: message}, statusErr
	}
	return &PublishMessageResponse{
		Success:     true,
		MessageID:   msg.ID,
		PublishTime: msg.PublishTime.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (s *Service) CreateTopic(ctx context.Context, in *CreateTopicRequest) (*CreateTopicResponse, error) {
	topic, err := s.bus.CreateTopic(ctx, runtimepkg.CreateTopicRequest{
		Name:           in.Name,
		Description:    in.Description,
		Properties:     in.Properties,
		PartitionCount: in.PartitionCount,
		RetentionHours: in.RetentionHours,
	})
	if err != nil {
		message, statusErr := s.fail(ctx, err, "CreateTopic", map[string]string{"topic": in.Name})
		return &CreateTopicResponse{ErrorMessage: message}, statusErr
	}
	return &CreateTopicResponse{Success: true, Topic: toWireTopic(topic)}, nil
}

func (s *Service) GetTopic(ctx context.Context, in *GetTopicRequest) (*GetTopicResponse, error) {
	topic, err := s.bus.GetTopic(ctx, in.Name)
	if err != nil {
		message, statusErr := s.fail(ctx, err, "GetTopic", map[string]string{"topic": in.Name})
		return &GetTopicResponse{ErrorMessage: message}, statusErr
	}
	return &GetTopicResponse{Success: true, Topic: toWireTopic(topic)}, nil
}

func (s *Service) ListTopics(ctx context.Context, in *ListTopicsRequest) (*ListTopicsResponse, error) {
	page, err := s.bus.ListTopics(ctx, int(in.PageSize), in.PageToken)
	if err != nil {
		_, statusErr := s.fail(ctx, err, "ListTopics", nil)
		return &ListTopicsResponse{}, statusErr
	}

	out := &ListTopicsResponse{
		Topics:        make([]*Topic, 0, len(page.Topics)),
		NextPageToken: page.NextPageToken,
		TotalCount:    int32(page.TotalCount),
	}
	for _, topic := range page.Topics {
		out.Topics = append(out.Topics, toWireTopic(topic))
	}
	return out, nil
}

// DeleteTopic reports success=false with an OK status when the topic did not
// exist.
func (s *Service) DeleteTopic(ctx context.Context, in *DeleteTopicRequest) (*DeleteTopicResponse, error) {
	deleted, err := s.bus.DeleteTopic(ctx, in.Name)
	if err != nil {
		message, statusErr := s.fail(ctx, err, "DeleteTopic", map[string]string{"topic": in.Name})
		return &DeleteTopicResponse{ErrorMessage: message}, statusErr
	}
	if !deleted {
		return &DeleteTopicResponse{ErrorMessage: fmt.Sprintf("topic %q not found", in.Name)}, nil
	}
	return &DeleteTopicResponse{Success: true}, nil
}

// HealthCheck reports SERVING while every dependency breaker is closed.
func (s *Service) HealthCheck(ctx context.Context, in *HealthCheckRequest) (*HealthCheckResponse, error) {
	if s.bus.Healthy() {
		return &HealthCheckResponse{Status: StatusServing}, nil
	}
	return &HealthCheckResponse{Status: StatusNotServing}, nil
}

// fail records err and returns the caller facing message with the status
// error for the RPC.
func (s *Service) fail(ctx context.Context, err error, method string, details map[string]string) (string, error) {
	mbErr := s.errors.HandleError(ctx, err, details, "grpc."+method)
	st := errspkg.ToStatus(mbErr)
	return st.Message(), st.Err()
}

func toWireTopic(t topics.Topic) *Topic {
	out := &Topic{
		Name:           t.Name,
		Description:    t.Description,
		Properties:     t.Properties,
		PartitionCount: t.PartitionCount,
		RetentionHours: t.RetentionHours,
	}
	if !t.CreatedAt.IsZero() {
		out.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return out
}

type authenticatedPublisherKey struct{}

// WithPublisherID records an identity established by an authentication
// interceptor. It takes precedence over the request headers.
func WithPublisherID(ctx context.Context, publisherID string) context.Context {
	return context.WithValue(ctx, authenticatedPublisherKey{}, publisherID)
}

// PublisherIDFromContext returns the identity set by WithPublisherID. Without
// one it falls back to the x-publisher-id and user-id headers, which are
// asserted by the caller and not verified, and finally to
// runtime.AnonymousPublisher.
func PublisherIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(authenticatedPublisherKey{}).(string); ok {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return runtimepkg.AnonymousPublisher
	}
	for _, key := range []string{PublisherIDHeader, UserIDHeader} {
		for _, value := range md.Get(key) {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	return runtimepkg.AnonymousPublisher
}

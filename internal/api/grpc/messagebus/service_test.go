package messagebus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	runtimepkg "github.com/suoke-life/messagebus/internal/runtime"
	"github.com/suoke-life/messagebus/internal/runtime/breaker"
	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
	errspkg "github.com/suoke-life/messagebus/internal/runtime/errors"
	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
	metadatapkg "github.com/suoke-life/messagebus/internal/runtime/metadata"
	"github.com/suoke-life/messagebus/internal/runtime/repository"
	"github.com/suoke-life/messagebus/internal/runtime/topics"
	"github.com/suoke-life/messagebus/transport/transporttest"
)

type recordingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *recordingSink) IncrementCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[name+"/"+labels["error_type"]+"/"+labels["component"]]++
}

func (r *recordingSink) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveRequest(method, code string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, method+":"+code)
}

func (o *recordingObserver) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

type harness struct {
	client    MessageBusServiceClient
	publisher *transporttest.Publisher
	sink      *recordingSink
	observer  *recordingObserver
}

func newHarness(t *testing.T) harness {
	t.Helper()

	pub := &transporttest.Publisher{}
	svc, err := runtimepkg.TryNewService(context.Background(), &configpkg.Config{
		PubSubSystem: "channel",
		TopicStore:   "memory",
		SendTimeout:  time.Second,
	}, loggingpkg.NewNopServiceLogger(), runtimepkg.ServiceDependencies{
		Publisher: pub,
		Store:     topics.NewMemoryStore(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	sink := &recordingSink{}
	observer := &recordingObserver{}

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryServerInterceptor(observer, nil)))
	RegisterMessageBusServiceServer(server, NewService(svc, errspkg.NewHandler(loggingpkg.NewNopServiceLogger(), sink)))
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return harness{client: NewMessageBusClient(conn), publisher: pub, sink: sink, observer: observer}
}

func errorInfo(t *testing.T, err error) *errdetails.ErrorInfo {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok)
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info
		}
	}
	t.Fatalf("status %v carries no ErrorInfo", st)
	return nil
}

func TestPublishOrdersEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.client.CreateTopic(ctx, &CreateTopicRequest{Name: "orders", Description: "order events"})
	require.NoError(t, err)
	assert.True(t, created.Success)
	assert.EqualValues(t, 1, created.Topic.PartitionCount)
	assert.EqualValues(t, 24, created.Topic.RetentionHours)
	assert.NotEmpty(t, created.Topic.CreatedAt)

	ctx = metadata.AppendToOutgoingContext(ctx, PublisherIDHeader, "svc-a")
	resp, err := h.client.PublishMessage(ctx, &PublishMessageRequest{
		Topic:      "orders",
		Payload:    []byte(`{"id":7}`),
		Attributes: map[string]string{"k": "v"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Len(t, resp.MessageID, 26)
	_, err = time.Parse(time.RFC3339Nano, resp.PublishTime)
	assert.NoError(t, err)

	require.Len(t, h.publisher.Messages, 1)
	sent := h.publisher.Messages[0]
	assert.Equal(t, resp.MessageID, sent.UUID)
	assert.Equal(t, `{"id":7}`, string(sent.Payload))
	assert.Equal(t, "svc-a", sent.Metadata.Get(metadatapkg.KeyPublisherID))
	assert.Equal(t, "v", sent.Metadata.Get("k"))

	assert.Equal(t, []string{"CreateTopic:OK", "PublishMessage:OK"}, h.observer.seen())
}

func TestPublishToMissingTopicIsNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.PublishMessage(context.Background(), &PublishMessageRequest{Topic: "ghost", Payload: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, string(errspkg.CodeTopicNotFound), errorInfo(t, err).Reason)
	assert.Empty(t, h.publisher.Messages)
	assert.Equal(t, 1, h.sink.count("errors_total/TOPIC_NOT_FOUND/grpc.PublishMessage"))
}

func TestCreateTopicTwiceIsAlreadyExists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.CreateTopic(ctx, &CreateTopicRequest{Name: "orders"})
	require.NoError(t, err)
	_, err = h.client.CreateTopic(ctx, &CreateTopicRequest{Name: "orders"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestCreateTopicValidationIsInvalidArgument(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.CreateTopic(context.Background(), &CreateTopicRequest{Name: "bad name", PartitionCount: -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, []string{"CreateTopic:InvalidArgument"}, h.observer.seen())
}

func TestGetAndDeleteTopic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.CreateTopic(ctx, &CreateTopicRequest{Name: "orders", Properties: map[string]string{"team": "checkout"}})
	require.NoError(t, err)

	got, err := h.client.GetTopic(ctx, &GetTopicRequest{Name: "orders"})
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, "checkout", got.Topic.Properties["team"])

	deleted, err := h.client.DeleteTopic(ctx, &DeleteTopicRequest{Name: "orders"})
	require.NoError(t, err)
	assert.True(t, deleted.Success)

	_, err = h.client.GetTopic(ctx, &GetTopicRequest{Name: "orders"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	again, err := h.client.DeleteTopic(ctx, &DeleteTopicRequest{Name: "orders"})
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Contains(t, again.ErrorMessage, "not found")
}

func TestListTopicsPagesThroughAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("t%02d", i)
		_, err := h.client.CreateTopic(ctx, &CreateTopicRequest{Name: name})
		require.NoError(t, err)
		want = append(want, name)
	}

	var got []string
	token := ""
	for {
		page, err := h.client.ListTopics(ctx, &ListTopicsRequest{PageSize: 5, PageToken: token})
		require.NoError(t, err)
		assert.EqualValues(t, 12, page.TotalCount)
		for _, topic := range page.Topics {
			got = append(got, topic.Name)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	assert.Equal(t, want, got)

	_, err := h.client.ListTopics(ctx, &ListTopicsRequest{PageToken: "garbage"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestBrokerOutageSurfacesRetryInfoAndHealth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.CreateTopic(ctx, &CreateTopicRequest{Name: "orders"})
	require.NoError(t, err)

	health, err := h.client.HealthCheck(ctx, &HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusServing, health.Status)

	h.publisher.Err = errors.New("broker down")
	for i := 0; i < breaker.DefaultThreshold; i++ {
		_, err = h.client.PublishMessage(ctx, &PublishMessageRequest{Topic: "orders"})
		require.Error(t, err)
		assert.Equal(t, codes.Internal, status.Code(err))
	}

	_, err = h.client.PublishMessage(ctx, &PublishMessageRequest{Topic: "orders"})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, "internal server error", st.Message())

	var retry *errdetails.RetryInfo
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.RetryInfo); ok {
			retry = info
		}
	}
	require.NotNil(t, retry)
	assert.Positive(t, retry.GetRetryDelay().AsDuration())
	assert.Len(t, h.publisher.Messages, breaker.DefaultThreshold)

	health, err = h.client.HealthCheck(ctx, &HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusNotServing, health.Status)
}

func TestPublisherIDFromContext(t *testing.T) {
	tests := []struct {
		name          string
		md            metadata.MD
		authenticated string
		want          string
	}{
		{name: "no metadata", want: runtimepkg.AnonymousPublisher},
		{name: "authenticated wins over headers", md: metadata.Pairs(PublisherIDHeader, "spoofed"), authenticated: "billing", want: "billing"},
		{name: "blank authenticated falls back", md: metadata.Pairs(UserIDHeader, "u1"), authenticated: " ", want: "u1"},
		{name: "publisher header", md: metadata.Pairs(PublisherIDHeader, "svc-a", UserIDHeader, "u1"), want: "svc-a"},
		{name: "user fallback", md: metadata.Pairs(UserIDHeader, "u1"), want: "u1"},
		{name: "blank header", md: metadata.Pairs(PublisherIDHeader, "  "), want: runtimepkg.AnonymousPublisher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			if tt.authenticated != "" {
				ctx = WithPublisherID(ctx, tt.authenticated)
			}
			assert.Equal(t, tt.want, PublisherIDFromContext(ctx))
		})
	}
}

type stubBus struct {
	deleteErr error
}

func (stubBus) Publish(context.Context, runtimepkg.PublishRequest) (repository.Message, error) {
	return repository.Message{}, nil
}

func (stubBus) CreateTopic(context.Context, runtimepkg.CreateTopicRequest) (topics.Topic, error) {
	return topics.Topic{}, nil
}

func (stubBus) GetTopic(context.Context, string) (topics.Topic, error) {
	return topics.Topic{}, nil
}

func (stubBus) ListTopics(context.Context, int, string) (topics.Page, error) {
	return topics.Page{}, nil
}

func (b stubBus) DeleteTopic(context.Context, string) (bool, error) {
	return false, b.deleteErr
}

func (stubBus) Healthy() bool { return true }

func TestRawErrorsAreNormalised(t *testing.T) {
	svc := NewService(stubBus{deleteErr: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}, nil)

	resp, err := svc.DeleteTopic(context.Background(), &DeleteTopicRequest{Name: "orders"})
	assert.False(t, resp.Success)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, string(errspkg.CodeNetwork), errorInfo(t, err).Reason)
	assert.NotEmpty(t, resp.ErrorMessage)
}

func TestCodec(t *testing.T) {
	c := Codec{}
	assert.Equal(t, "json", c.Name())

	data, err := c.Marshal(&GetTopicRequest{Name: "orders"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"orders"}`, string(data))

	var out GetTopicRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, "orders", out.Name)
	require.NoError(t, c.Unmarshal(nil, &out))

	assert.Error(t, c.Unmarshal([]byte("{"), &out))
}

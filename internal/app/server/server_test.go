package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	messagebusapi "github.com/suoke-life/messagebus/internal/api/grpc/messagebus"
	runtimepkg "github.com/suoke-life/messagebus/internal/runtime"
	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
	errspkg "github.com/suoke-life/messagebus/internal/runtime/errors"
	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
	"github.com/suoke-life/messagebus/transport/transporttest"
)

type harness struct {
	server    *Server
	publisher *transporttest.Publisher
	conn      *grpc.ClientConn
	client    messagebusapi.MessageBusServiceClient
	health    grpc_health_v1.HealthClient
	cancel    context.CancelFunc
	done      chan error
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem:     "channel",
		TopicStore:       "memory",
		GRPCAddr:         "127.0.0.1:0",
		SendTimeout:      time.Second,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Minute,
	}
}

func startServer(t *testing.T, conf *configpkg.Config, pub *transporttest.Publisher) *harness {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv, err := NewWithListener(context.Background(), listener, conf, loggingpkg.NewNopServiceLogger(), Options{
		Registry:     prometheus.NewRegistry(),
		Dependencies: runtimepkg.ServiceDependencies{Publisher: pub},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	h := &harness{
		server:    srv,
		publisher: pub,
		conn:      conn,
		client:    messagebusapi.NewMessageBusClient(conn),
		health:    grpc_health_v1.NewHealthClient(conn),
		cancel:    cancel,
		done:      done,
	}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	_ = h.conn.Close()
	h.cancel()
	<-h.done
	h.cancel = nil
}

func TestNewWithListenerRequiresConfigAndLogger(t *testing.T) {
	_, err := NewWithListener(context.Background(), nil, nil, loggingpkg.NewNopServiceLogger(), Options{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = NewWithListener(context.Background(), nil, testConfig(), nil, Options{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestNewFailsOnBadAddress(t *testing.T) {
	conf := testConfig()
	conf.GRPCAddr = "not-an-address"

	_, err := New(context.Background(), conf, loggingpkg.NewNopServiceLogger(), Options{Registry: prometheus.NewRegistry()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on not-an-address")
}

func TestMetricsServerOnlyWhenEnabled(t *testing.T) {
	conf := testConfig()
	h := startServer(t, conf, &transporttest.Publisher{})
	assert.Nil(t, h.server.metricsServer)

	conf = testConfig()
	conf.MetricsEnabled = true
	conf.MetricsPort = 9464
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, err := NewWithListener(context.Background(), listener, conf, loggingpkg.NewNopServiceLogger(), Options{
		Registry:     prometheus.NewRegistry(),
		Dependencies: runtimepkg.ServiceDependencies{Publisher: &transporttest.Publisher{}},
	})
	require.NoError(t, err)
	defer srv.Close()

	require.NotNil(t, srv.metricsServer)
	assert.Equal(t, ":9464", srv.metricsServer.Addr)
}

func TestServePublishesOverGRPC(t *testing.T) {
	h := startServer(t, testConfig(), &transporttest.Publisher{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	created, err := h.client.CreateTopic(ctx, &messagebusapi.CreateTopicRequest{Name: "orders"})
	require.NoError(t, err)
	require.True(t, created.Success)

	resp, err := h.client.PublishMessage(ctx, &messagebusapi.PublishMessageRequest{
		Topic:   "orders",
		Payload: []byte(`{"id":1}`),
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.MessageID)

	topics, msgs := h.publisher.Published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "orders", topics[0])
	assert.Equal(t, resp.MessageID, msgs[0].UUID)
}

func TestHealthFollowsBreaker(t *testing.T) {
	// The broker rejects everything, so the first publish opens the breaker.
	h := startServer(t, testConfig(), &transporttest.Publisher{Err: assert.AnError})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, service := range []string{"", messagebusapi.ServiceName} {
		resp, err := h.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status, service)
	}

	_, err := h.client.CreateTopic(ctx, &messagebusapi.CreateTopicRequest{Name: "orders"})
	require.NoError(t, err)

	_, err = h.client.PublishMessage(ctx, &messagebusapi.PublishMessageRequest{Topic: "orders", Payload: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))

	resp, err := h.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: messagebusapi.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)

	api, err := h.client.HealthCheck(ctx, &messagebusapi.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, messagebusapi.StatusNotServing, api.Status)
}

func TestServeStopsOnCancelAndReleasesPublisher(t *testing.T) {
	h := startServer(t, testConfig(), &transporttest.Publisher{})
	h.stop()

	assert.True(t, h.publisher.IsClosed())
	assert.Nil(t, h.server.Service().Close())
}

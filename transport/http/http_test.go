package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suoke-life/messagebus/transport"
	"github.com/suoke-life/messagebus/transport/transporttest"
)

func TestRegisteredOnInit(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestMarshalFuncAppendsTopic(t *testing.T) {
	msg := message.NewMessage("01J0000000000000000000000A", []byte(`{"id":1}`))
	msg.Metadata.Set("topic", "orders")

	req, err := marshalFunc("http://hooks.local/events")("orders", msg)
	require.NoError(t, err)
	assert.Equal(t, nethttp.MethodPost, req.Method)
	assert.Equal(t, "http://hooks.local/events/orders", req.URL.String())
	assert.Equal(t, "01J0000000000000000000000A", req.Header.Get(http.HeaderUUID))
}

func TestBuild(t *testing.T) {
	t.Run("requires url", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "url is required")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		original := PublisherFactory
		t.Cleanup(func() { PublisherFactory = original })
		PublisherFactory = func(http.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: "http://x"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})
}

func TestPublishPostsToWebhook(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r.URL.Path + " " + string(body)
		w.WriteHeader(nethttp.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	tr, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: srv.URL}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Publisher.Publish("orders", message.NewMessage("01J0000000000000000000000A", []byte("hi"))))
	assert.Equal(t, "/orders hi", <-received)
}

func TestPublishFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	tr, err := Build(context.Background(), &transporttest.Config{HTTPPublisherURL: srv.URL}, watermill.NopLogger{})
	require.NoError(t, err)

	err = tr.Publisher.Publish("orders", message.NewMessage("01J0000000000000000000000A", []byte("hi")))
	assert.Error(t, err)
}

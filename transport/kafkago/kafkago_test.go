package kafkago

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suoke-life/messagebus/transport"
	"github.com/suoke-life/messagebus/transport/transporttest"
)

type fakeWriter struct {
	ctx     context.Context
	written []kafka.Message
	err     error
	closed  int
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.ctx = ctx
	w.written = append(w.written, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

type ctxKey struct{}

func TestRegisteredOnInit(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.KafkaGoCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("requires brokers", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "broker address is required")
	})

	t.Run("wraps the writer", func(t *testing.T) {
		original := WriterFactory
		t.Cleanup(func() { WriterFactory = original })

		w := &fakeWriter{}
		WriterFactory = func(brokers []string) MessageWriter {
			assert.Equal(t, []string{"k1:9092", "k2:9092"}, brokers)
			return w
		}

		tr, err := Build(context.Background(), &transporttest.Config{KafkaBrokers: []string{"k1:9092", "k2:9092"}}, watermill.NopLogger{})
		require.NoError(t, err)
		require.NoError(t, tr.Publisher.Publish("orders", message.NewMessage("id-1", []byte("x"))))
		assert.Len(t, w.written, 1)
	})
}

func TestDefaultWriterConfiguration(t *testing.T) {
	w, ok := WriterFactory([]string{"localhost:9092"}).(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
	assert.EqualValues(t, 10<<20, w.BatchBytes)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}

func TestPublishMapsMessage(t *testing.T) {
	w := &fakeWriter{}
	pub := NewPublisher(w, nil)

	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")
	msg := message.NewMessage("01J0000000000000000000000A", []byte(`{"id":7}`))
	msg.Metadata.Set("topic", "orders")
	msg.SetContext(ctx)

	require.NoError(t, pub.Publish("suoke.orders", msg))
	require.Len(t, w.written, 1)

	rec := w.written[0]
	assert.Equal(t, "suoke.orders", rec.Topic)
	assert.Equal(t, []byte("01J0000000000000000000000A"), rec.Key)
	assert.Equal(t, []byte(`{"id":7}`), rec.Value)
	assert.Equal(t, []kafka.Header{{Key: "topic", Value: []byte("orders")}}, rec.Headers)
	assert.Equal(t, "marker", w.ctx.Value(ctxKey{}))
}

func TestPublishWrapsWriterError(t *testing.T) {
	writeErr := errors.New("leader not available")
	pub := NewPublisher(&fakeWriter{err: writeErr}, nil)

	err := pub.Publish("orders", message.NewMessage("id", nil))
	assert.ErrorIs(t, err, writeErr)
	assert.ErrorContains(t, err, `"orders"`)
}

func TestPublishEmptyBatch(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewPublisher(w, nil).Publish("orders"))
	assert.Empty(t, w.written)
}

func TestCloseIsIdempotent(t *testing.T) {
	w := &fakeWriter{}
	pub := NewPublisher(w, nil)

	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())
	assert.Equal(t, 1, w.closed)
	assert.ErrorIs(t, pub.Publish("orders", message.NewMessage("id", nil)), ErrPublisherClosed)
}

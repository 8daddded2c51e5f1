package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_LimitMessageSize(t *testing.T) {
	tests := []struct {
		name  string
		caps  Capabilities
		limit int64
		want  int64
	}{
		{name: "broker limit unknown", caps: Capabilities{}, limit: 10 << 20, want: 10 << 20},
		{name: "broker limit smaller", caps: AWSCapabilities, limit: 10 << 20, want: 262144},
		{name: "configured limit smaller", caps: NATSCapabilities, limit: 1024, want: 1024},
		{name: "no configured limit", caps: NATSCapabilities, limit: 0, want: 1048576},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.LimitMessageSize(tt.limit))
		})
	}
}

func TestPredefinedCapabilities(t *testing.T) {
	for _, caps := range []Capabilities{
		ChannelCapabilities,
		KafkaCapabilities,
		KafkaGoCapabilities,
		RabbitMQCapabilities,
		NATSCapabilities,
		AWSCapabilities,
		HTTPCapabilities,
	} {
		assert.NotEmpty(t, caps.Name)
	}

	assert.True(t, KafkaCapabilities.SupportsPartitioning)
	assert.Equal(t, int64(10<<20), KafkaCapabilities.LimitMessageSize(10<<20))
}

package messagebus

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/suoke-life/messagebus/internal/runtime/jsoncodec"
)

// CodecName is the gRPC content subtype of the JSON codec.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals gRPC messages as JSON with sonic.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec: marshal %T: %w", v, err)
	}
	return data, nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec: unmarshal %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }

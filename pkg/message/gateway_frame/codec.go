package gatewayframe

import (
	"fmt"

	"github.com/sessamekesh/shardwire/pkg/errors"
)

// Codec decodes frames for exactly one socket. With compression on it owns the
// zlib-stream context, so a socket that hit a decode error must get a new Codec.
type Codec struct {
	Compress bool

	inflater *zlibStreamInflater
}

func NewCodec(compress bool) *Codec {
	c := &Codec{Compress: compress}
	if compress {
		c.inflater = newZlibStreamInflater()
	}
	return c
}

// Decode turns one transport frame into an Envelope. It returns (nil, nil) when the
// frame is a partial compressed message and more frames are needed.
func (c *Codec) Decode(data []byte, binary bool) (*Envelope, error) {
	if binary && c.inflater != nil {
		out, complete, err := c.inflater.Feed(data)
		if err != nil {
			return nil, err
		}
		if !complete {
			return nil, nil
		}
		data = out
	}

	return parseEnvelope(data)
}

func parseEnvelope(data []byte) (*Envelope, error) {
	wire := wireEnvelope{}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, &errors.DecodeError{Kind: errors.DecodeErrorKind_Malformed, Err: err}
	}
	if wire.Op == nil {
		return nil, &errors.DecodeError{
			Kind: errors.DecodeErrorKind_Malformed,
			Err:  fmt.Errorf("frame has no op field"),
		}
	}

	env := &Envelope{
		Op:   *wire.Op,
		Data: wire.Data,
	}
	if wire.Seq != nil {
		env.Seq = *wire.Seq
	}
	if wire.Type != nil {
		env.Type = *wire.Type
	}

	if env.Op == Opcode_Dispatch && env.Type == "" {
		return nil, &errors.MissingFieldError{MessageName: "DispatchEnvelope", FieldName: "t"}
	}

	return env, nil
}

func Encode(frame Frame) ([]byte, error) {
	return json.Marshal(frame)
}

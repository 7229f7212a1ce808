package rpc

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype every skiff client and server uses.
// The services here are described by hand-maintained grpc.ServiceDescs over
// this codec, so the wire messages are exactly the JSON shapes in types.go.
const CodecName = "skiff-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                     { return CodecName }

// DialTimeout bounds a single blocking dial attempt made through Dial.
const DialTimeout = 3 * time.Second

// Dial opens a client connection to addr with the skiff codec selected for
// every call. The dial blocks until the transport is up or ctx/DialTimeout
// expires, so callers can retry failed attempts explicitly.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithBlock(),
	}
	return grpc.DialContext(ctx, addr, append(base, opts...)...)
}

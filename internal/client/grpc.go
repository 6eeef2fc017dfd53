// ABOUTME: gRPC Fetcher calling forgestate.v1.StateService with the JSON codec
// ABOUTME: The reply is validated with the same shape checks as the HTTP envelope

package client

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/wire"
)

// GRPCFetcher fetches the state over gRPC.
type GRPCFetcher struct {
	conn grpc.ClientConnInterface
}

// NewGRPCFetcher wraps an established connection. The caller owns conn.
func NewGRPCFetcher(conn grpc.ClientConnInterface) *GRPCFetcher {
	return &GRPCFetcher{conn: conn}
}

// Fetch implements Fetcher.
func (f *GRPCFetcher) Fetch(ctx context.Context) (*projectstate.ProjectState, error) {
	var raw json.RawMessage
	err := f.conn.Invoke(ctx, wire.FullMethod(wire.MethodGetState), &wire.Empty{}, &raw,
		grpc.CallContentSubtype(wire.CodecName))
	if err != nil {
		return nil, classifyRPCError(err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, &ResponseError{Reason: "reply is not valid JSON"}
	}
	return decodeState(0, gjson.ParseBytes(raw))
}

// classifyRPCError separates transport failures from server rejections.
func classifyRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &NetworkError{Op: "GetState", Err: err}
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return &NetworkError{Op: "GetState", Err: err}
	default:
		return &ResponseError{Reason: st.Message()}
	}
}

// ABOUTME: JSON codec for gRPC so the state service needs no generated protobuf code
// ABOUTME: Registered under the "json" content subtype; clients opt in per call

package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the JSON codec
const CodecName = "json"

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "forgestate.v1.StateService"

// gRPC method names, relative to ServiceName.
const (
	MethodHealth             = "Health"
	MethodGetState           = "GetState"
	MethodReplaceState       = "ReplaceState"
	MethodBatchUpdate        = "BatchUpdate"
	MethodRunSingularity     = "RunSingularity"
	MethodAddCustomCodexItem = "AddCustomCodexItem"
	MethodListCodex          = "ListCodex"
	MethodGetChecklist       = "GetChecklist"
)

// FullMethod returns the /service/method path used on the wire.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// JSONCodec implements encoding.Codec with encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal: %w", err)
	}
	return b, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal: %w", err)
	}
	return nil
}

func (JSONCodec) Name() string { return CodecName }

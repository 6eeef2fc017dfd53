// ABOUTME: Tests for the gRPC JSON codec and envelope helpers
// ABOUTME: Verifies the codec is registered and envelopes omit empty fields

package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)
	assert.Equal(t, CodecName, c.Name())
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	var c JSONCodec
	value := true
	in := BatchRequest{Updates: []StepUpdate{{ID: 3, Value: &value}}}

	b, err := c.Marshal(in)
	require.NoError(t, err)

	var out BatchRequest
	require.NoError(t, c.Unmarshal(b, &out))
	require.Len(t, out.Updates, 1)
	assert.True(t, *out.Updates[0].Value)

	assert.Error(t, c.Unmarshal([]byte("{"), &out))
}

func TestEnvelope_JSON(t *testing.T) {
	b, err := json.Marshal(OK(map[string]int{"n": 1}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"n":1}}`, string(b))

	b, err = json.Marshal(Fail("boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"boom"}`, string(b))
}

func TestStepUpdate_MissingValue(t *testing.T) {
	var req BatchRequest
	require.NoError(t, json.Unmarshal([]byte(`{"updates":[{"id":1}]}`), &req))
	assert.Nil(t, req.Updates[0].Value)

	assert.Error(t, json.Unmarshal([]byte(`{"updates":[{"id":1,"value":"yes"}]}`), &req))
}

func TestFullMethod(t *testing.T) {
	assert.Equal(t, "/forgestate.v1.StateService/GetState", FullMethod(MethodGetState))
}

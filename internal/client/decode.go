// ABOUTME: Envelope and state shape validation using gjson before decoding
// ABOUTME: Truncated or foreign payloads are rejected rather than half-decoded

package client

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/2389/forgestate/internal/projectstate"
	"github.com/2389/forgestate/internal/wire"
)

// unwrapEnvelope returns the raw data of a success envelope.
func unwrapEnvelope(status int, body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &ResponseError{Status: status, Reason: "body is not valid JSON"}
	}
	success := gjson.GetBytes(body, "success")
	if success.Type != gjson.True {
		reason := gjson.GetBytes(body, "error").String()
		if reason == "" {
			reason = "envelope is not successful"
		}
		return gjson.Result{}, &ResponseError{Status: status, Reason: reason}
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return gjson.Result{}, &ResponseError{Status: status, Reason: "envelope has no data"}
	}
	return data, nil
}

// decodeState checks every expected field is present before decoding.
func decodeState(status int, data gjson.Result) (*projectstate.ProjectState, error) {
	if !data.IsObject() {
		return nil, &ResponseError{Status: status, Reason: "state is not an object"}
	}
	for _, field := range wire.ProjectStateFields {
		if !data.Get(field).Exists() {
			return nil, &ResponseError{Status: status, Reason: fmt.Sprintf("state is missing %q", field)}
		}
	}
	if !data.Get("checklist").IsArray() {
		return nil, &ResponseError{Status: status, Reason: "checklist is not an array"}
	}

	var st projectstate.ProjectState
	if err := json.Unmarshal([]byte(data.Raw), &st); err != nil {
		return nil, &ResponseError{Status: status, Reason: fmt.Sprintf("decoding state: %v", err)}
	}
	return &st, nil
}

func decodeData(status int, data gjson.Result, v any) error {
	if err := json.Unmarshal([]byte(data.Raw), v); err != nil {
		return &ResponseError{Status: status, Reason: fmt.Sprintf("decoding data: %v", err)}
	}
	return nil
}

// ABOUTME: Client-side error types for transport failures and bad responses
// ABOUTME: Both only drive Syncer transitions; callers inspect them with errors.As

package client

import "fmt"

// NetworkError is a transport failure: the request never produced a response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ResponseError is a response that was not a well-formed success envelope.
type ResponseError struct {
	Status int // HTTP status, 0 for gRPC
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("bad response (status %d): %s", e.Status, e.Reason)
	}
	return "bad response: " + e.Reason
}

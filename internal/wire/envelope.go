// ABOUTME: JSON envelope and request bodies shared by the HTTP API and its clients
// ABOUTME: Every response is {success, data?, error?}; errors never travel unenveloped

package wire

// Envelope wraps every HTTP response body.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK wraps data in a successful envelope
func OK(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail wraps an error message
func Fail(msg string) Envelope {
	return Envelope{Success: false, Error: msg}
}

// StepUpdate is one entry of a batch request. Value is a pointer so a missing
// value can be told apart from false.
type StepUpdate struct {
	ID    int   `json:"id"`
	Value *bool `json:"value"`
}

// BatchRequest is the body of POST /api/checklist/batch.
type BatchRequest struct {
	Updates []StepUpdate `json:"updates"`
}

// Empty is the request message for operations without input.
type Empty struct{}

// Health is the gRPC health response.
type Health struct {
	Status string `json:"status"`
}

// ProjectStateFields lists the top-level fields a well-formed state carries.
// Clients use it to reject truncated or foreign payloads.
var ProjectStateFields = []string{
	"schemaVersion",
	"revision",
	"checklist",
	"storage",
	"vms",
	"hostStats",
	"apiConfig",
	"nodes",
	"orchestrationLog",
	"activeForgeJobs",
	"customCodex",
	"evolutionQueue",
	"lastUpdated",
}

// ABOUTME: Recorder interface for state service metrics with a no-op default
// ABOUTME: Components hold a Recorder and never nil-check it

package metrics

import "time"

// Result labels for write counters.
const (
	ResultSuccess  = "success"
	ResultConflict = "conflict"
	ResultInvalid  = "invalid"
	ResultFailed   = "failed"
)

// Recorder is implemented by every metrics backend.
type Recorder interface {
	// ObserveWrite records one attempted state write.
	ObserveWrite(op, result string, d time.Duration)
	// SetChecklistProgress publishes the committed completion count.
	SetChecklistProgress(completed, total int)
	// IncIdempotentReplay counts responses served from the idempotency cache.
	IncIdempotentReplay()
	// IncSyncTransition counts client sync phase transitions.
	IncSyncTransition(from, to string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) ObserveWrite(string, string, time.Duration) {}
func (NoopRecorder) SetChecklistProgress(int, int)              {}
func (NoopRecorder) IncIdempotentReplay()                       {}
func (NoopRecorder) IncSyncTransition(string, string)           {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}

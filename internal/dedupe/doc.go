// Package dedupe remembers the responses to recent write requests so a client
// that retries with the same Idempotency-Key gets the original reply instead
// of a second application of its batch.
package dedupe

// Package client talks to a forgestate server and keeps a local view of the
// project state in sync.
//
// Fetchers (HTTPClient, GRPCFetcher) retrieve the state and reject any reply
// that is not a complete, successful envelope. Syncer drives a fetcher
// through an explicit state machine:
//
//	Hydrating --FetchSucceeded--> Stable
//	Hydrating --FetchFailed--> Hydrating     (after a backoff delay)
//	Hydrating --RetriesExhausted--> Degraded
//	Stable, Degraded --ManualRetry--> Hydrating
//
// Fetch errors never escape the Syncer; they show up in Snapshot.Err and
// in the Degraded phase.
package client

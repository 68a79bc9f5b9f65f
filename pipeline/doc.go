// Package pipeline orchestrates document processing as a durable job state
// machine, including:
//   - Registering documents idempotently under content-addressed IDs
//   - Driving each document through the parse, chunk, and embed stages
//   - Claiming jobs under leases that survive worker crashes
//   - Retrying transient failures with exponential backoff, dead-lettering
//     the rest
//
// The Ledger owns every state transition and appends each one to the event
// log; the Coordinator runs the worker side, executing claimed jobs on a
// bounded pool. Stage processors are idempotent, so a reclaimed job can be
// safely re-executed by another worker.
package pipeline

// Package models defines the domain entities for the download/organization pipeline.
//
// The package contains three categories of types:
//
// 1. Work units owned by the scheduler:
//   - [Job] : one fetch-and-organize unit for a single track
//   - [Batch] : a group of Jobs expanded from one user-level request
//
// 2. Media data produced by the fetch adapter:
//   - [TrackMetadata] : tag data extracted from a downloaded file
//   - [MediaResult] : a downloaded file handle plus its metadata
//
// 3. Durable records:
//   - [JobEvent] : one append-only history row per state transition
//   - [LibraryEntry] : a (path, fingerprint) pair committed to the canonical tree
//
// Job state transitions are owned exclusively by the queue package; Batch
// counters are owned by the orchestrator and advanced only via atomic
// increments on child-job settlement.
package models

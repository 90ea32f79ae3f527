// Package envelope defines the structured protocol envelope and its wire
// codec. Envelopes are persisted as opaque bytes in the job store and parsed
// lazily when a job is processed; the codec is explicit and versioned so
// schema changes stay auditable.
//
// Any malformed input fails with *ParseError. Parse failures are permanent:
// re-parsing the same bytes can never succeed, so callers discard the
// carrying job.
package envelope

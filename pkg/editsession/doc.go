// Package editsession implements the client side of a single-writer
// document editing session against a notebook Document Store.
//
// A Session owns four pieces of state for one document:
//
//   - the edit-lock state machine (NoLock -> Pending -> Held / denied),
//   - the set of fields and their dirty flags,
//   - the autosave scheduler, which keeps at most one batch of field writes
//     in flight and collapses overlapping periodic triggers into a single
//     follow-up batch,
//   - the explicit save transaction, which persists every dirty field
//     before asking the store for the authoritative save.
//
// Field rendering is left to FieldEditor implementations. The Session only
// asks them whether they hold new input, reads and writes their values, and
// disables them while a resynchronization is applied.
//
// Failures never escape as panics or half-applied state. Network errors are
// turned into Notices (blocking or toast) and the affected fields stay dirty
// so the next batch retries them; repeated autosave failures throttle the
// periodic scheduler according to Policy.
package editsession

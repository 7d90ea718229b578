// Package scheduler decides when each open document is spell-checked.
//
// Every document URI gets a pipeline driven by a small state machine:
//
//	Idle -> FetchingSettings -> PendingDebounce -> Validating -> Idle
//	                                  |
//	                                  +-> Idle (busy, save-blocked)
//
// Edits coalesce during the debounce window so only the latest version is
// validated. Validation is single-flight across all documents: if another
// validation is running when a debounce timer fires, that release is
// dropped and the document waits for its next edit (see WithRetryWhileBusy).
// A save in progress blocks validation of its document until the save
// completes. Validation errors and panics are logged and published as an
// empty diagnostic set.
//
// All state is owned by a single event loop goroutine. Public methods post
// events to it and never block on validation.
package scheduler

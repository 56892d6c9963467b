package changeset

import "errors"

// Sentinel errors for change set operations.
//
// Read and write failures returned by Perform wrap one of the read/write
// sentinels together with the underlying cause, so callers can test with
// errors.Is for both. Cancellation wraps the context's error.
var (
	// ErrInvalidEdit is returned when an edit is recorded with a missing
	// entry, an empty name, or no content.
	ErrInvalidEdit = errors.New("changeset: invalid edit")

	// ErrSourceRead is returned when reading a source entry or its content fails.
	ErrSourceRead = errors.New("changeset: source read failed")

	// ErrContentRead is returned when draining discarded source content or
	// reading an addition's content fails.
	ErrContentRead = errors.New("changeset: content read failed")

	// ErrSinkWrite is returned when writing an entry, finishing, or closing
	// the destination fails.
	ErrSinkWrite = errors.New("changeset: sink write failed")

	// ErrContentConsumed is returned when a single-use addition content is
	// opened a second time, for example by a second Perform call.
	ErrContentConsumed = errors.New("changeset: addition content already consumed")
)

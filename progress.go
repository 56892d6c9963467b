package changeset

import "github.com/opencontainers/go-digest"

// Action is the decision the performer made for one entry.
type Action uint8

const (
	// ActionKeep means a source entry was copied through unchanged.
	ActionKeep Action = iota

	// ActionDelete means a source entry was dropped.
	ActionDelete

	// ActionReplace means a source entry's content was replaced in place.
	ActionReplace

	// ActionAdd means an addition was appended.
	ActionAdd
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionDelete:
		return "delete"
	case ActionReplace:
		return "replace"
	case ActionAdd:
		return "add"
	default:
		return "unknown"
	}
}

// ProgressEvent describes one entry handled by Perform.
type ProgressEvent struct {
	// Action is what happened to the entry.
	Action Action

	// Name is the entry name.
	Name string

	// Bytes is the content length written, or discarded for deletions.
	Bytes uint64

	// Digest is the content digest of written entries when digests are
	// enabled. It is empty for deletions.
	Digest digest.Digest

	// EntriesDone counts entries handled so far, including this one.
	EntriesDone int
}

// ProgressFunc receives an event after each entry is handled.
// It is called synchronously from the Perform goroutine.
type ProgressFunc func(ProgressEvent)

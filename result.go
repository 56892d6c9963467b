package changeset

import "fmt"

// Result reports what a Perform call did to each entry.
type Result struct {
	// Unchanged counts source entries copied through as-is.
	Unchanged int

	// Deleted counts source entries dropped by a deletion.
	Deleted int

	// Replaced counts source entries whose content was substituted in place.
	Replaced int

	// Added counts additions appended after the source entries.
	Added int

	// BytesWritten is the total entry content handed to the sink.
	BytesWritten uint64
}

// Total returns the number of entries written to the destination.
func (r Result) Total() int {
	return r.Unchanged + r.Replaced + r.Added
}

// String returns a one-line summary.
func (r Result) String() string {
	return fmt.Sprintf("%d unchanged, %d deleted, %d replaced, %d added (%d bytes)",
		r.Unchanged, r.Deleted, r.Replaced, r.Added, r.BytesWritten)
}

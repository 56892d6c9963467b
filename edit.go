package changeset

import (
	"fmt"
	"io"
	"sync"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/pathutil"
)

// EditKind identifies the variant of an Edit.
type EditKind uint8

const (
	// EditDelete removes matching source entries.
	EditDelete EditKind = iota + 1

	// EditAdd writes a new entry, optionally replacing a source entry of the same name.
	EditAdd
)

// String returns the edit kind name.
func (k EditKind) String() string {
	switch k {
	case EditDelete:
		return "delete"
	case EditAdd:
		return "add"
	default:
		return "unknown"
	}
}

// Selector identifies the source entries a deletion removes.
//
// A selector with Dir unset matches one entry by exact name. A directory
// selector matches the directory marker and every entry beneath it.
type Selector struct {
	// Name is the entry name, without a trailing slash for directories.
	Name string

	// Dir selects the whole subtree rooted at Name.
	Dir bool
}

// NameSelector returns a selector for name. A trailing slash makes it a
// directory selector.
func NameSelector(name string) Selector {
	name = pathutil.Clean(name)
	if archive.IsDirName(name) {
		return DirSelector(name)
	}
	return Selector{Name: name}
}

// DirSelector returns a selector matching the directory name and everything
// beneath it.
func DirSelector(name string) Selector {
	return Selector{Name: pathutil.TrimDir(pathutil.Clean(name)), Dir: true}
}

// Matches reports whether the selector matches the entry name. The name is
// cleaned the same way selector names are, so "./a" and "/a" match "a".
func (s Selector) Matches(name string) bool {
	name = pathutil.Clean(name)
	if s.Dir {
		return pathutil.Under(name, s.Name)
	}
	return name == s.Name
}

// String returns the selector in its trailing-slash form.
func (s Selector) String() string {
	if s.Dir {
		return pathutil.DirPrefix(s.Name)
	}
	return s.Name
}

// Opener returns a fresh reader over an addition's content.
// The performer closes the returned reader once the content is written.
type Opener func() (io.ReadCloser, error)

// Addition describes an entry to write into the destination.
type Addition struct {
	// Entry is the header written to the destination.
	Entry archive.Entry

	// Replace makes the addition take the place of a source entry with the
	// same name instead of being appended.
	Replace bool

	open Opener
}

// Name returns the addition's entry name.
func (a Addition) Name() string { return a.Entry.Name() }

// Open returns a reader over the addition's content.
func (a Addition) Open() (io.ReadCloser, error) {
	if a.open == nil {
		return nil, fmt.Errorf("%w: addition %s has no content", ErrInvalidEdit, entryName(a.Entry))
	}
	return a.open()
}

// Edit is a single recorded change: either a deletion or an addition.
type Edit struct {
	kind     EditKind
	selector Selector
	addition Addition
}

// Kind returns the edit variant.
func (e Edit) Kind() EditKind { return e.kind }

// Deletion returns the deletion selector if the edit is a deletion.
func (e Edit) Deletion() (Selector, bool) {
	return e.selector, e.kind == EditDelete
}

// Addition returns the addition if the edit is an addition.
func (e Edit) Addition() (Addition, bool) {
	return e.addition, e.kind == EditAdd
}

// onceOpener wraps a single-use reader. The first call hands the reader out;
// later calls fail with ErrContentConsumed.
func onceOpener(r io.Reader) Opener {
	var mu sync.Mutex
	used := false
	return func() (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		if used {
			return nil, ErrContentConsumed
		}
		used = true
		if rc, ok := r.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(r), nil
	}
}

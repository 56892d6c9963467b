// Package archive defines the capability contract between the change set
// performer and the format layer.
//
// A format adapter exposes an existing archive as a [Source] and a new
// archive as a [Sink]. Entries are identified by an [Entry]; everything else
// about an entry (headers, sizes, permissions) belongs to the format.
package archive

import (
	"io"
	"io/fs"
	"strings"
	"time"
)

// Entry identifies one archive member.
//
// Names are slash-separated and normalized by the format that produced them.
type Entry interface {
	// Name returns the member path, e.g. "META-INF/MANIFEST.MF".
	Name() string

	// IsDir reports whether the member is a directory marker.
	IsDir() bool
}

// Sizer is implemented by entries that know their content length up front.
// A negative size means unknown.
type Sizer interface {
	Size() int64
}

// ModTimer is implemented by entries that carry a modification time.
type ModTimer interface {
	ModTime() time.Time
}

// Moder is implemented by entries that carry permission bits.
type Moder interface {
	Mode() fs.FileMode
}

// Source produces the entries of an existing archive, in archive order.
//
// The reader returned by Next is valid until the following call to Next or
// Close. Callers that do not need the content may ignore it; the source skips
// any unread bytes when advancing.
type Source interface {
	// Next returns the next entry and its content.
	// It returns io.EOF when the archive is exhausted.
	Next() (Entry, io.Reader, error)

	// Close releases the source. It is safe to call after a failed Next.
	Close() error
}

// Sink serializes entries into a new archive, in the order given.
type Sink interface {
	// Write appends one entry. The content is fully consumed before Write
	// returns. Content for directory entries is ignored.
	Write(entry Entry, content io.Reader) error

	// Finish completes the archive's trailing structures. It is called at
	// most once, after all entries are written.
	Finish() error

	// Close releases the sink. Close without Finish leaves an incomplete
	// archive.
	Close() error
}

// File is a format-neutral Entry for building additions.
//
// Sinks convert a File into their own header type using the optional
// Sizer, ModTimer and Moder methods.
type File struct {
	// Path is the member name. A trailing slash marks a directory.
	Path string

	// FileMode holds permission bits and, for directories, fs.ModeDir.
	FileMode fs.FileMode

	// Modified is the modification time. The zero value lets sinks pick one.
	Modified time.Time

	// Length is the content length, or -1 when unknown.
	Length int64
}

// NewFile returns a regular-file entry of unknown length.
func NewFile(name string) *File {
	return &File{Path: name, FileMode: 0o644, Length: -1}
}

// NewSizedFile returns a regular-file entry with a known content length.
func NewSizedFile(name string, size int64) *File {
	return &File{Path: name, FileMode: 0o644, Length: size}
}

// NewDir returns a directory entry. The name is given a trailing slash.
func NewDir(name string) *File {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	return &File{Path: name, FileMode: fs.ModeDir | 0o755}
}

// Name implements Entry.
func (f *File) Name() string { return f.Path }

// IsDir implements Entry.
func (f *File) IsDir() bool { return f.FileMode.IsDir() || IsDirName(f.Path) }

// Size implements Sizer.
func (f *File) Size() int64 {
	if f.IsDir() {
		return 0
	}
	return f.Length
}

// ModTime implements ModTimer.
func (f *File) ModTime() time.Time { return f.Modified }

// Mode implements Moder.
func (f *File) Mode() fs.FileMode { return f.FileMode }

// IsDirName reports whether name uses the trailing-slash directory convention.
func IsDirName(name string) bool {
	return strings.HasSuffix(name, "/")
}

// SizeOf returns the entry's declared content length, or -1 if unknown.
func SizeOf(e Entry) int64 {
	if s, ok := e.(Sizer); ok {
		return s.Size()
	}
	return -1
}

// ModTimeOf returns the entry's modification time, or fallback if it has none.
func ModTimeOf(e Entry, fallback time.Time) time.Time {
	if m, ok := e.(ModTimer); ok {
		if t := m.ModTime(); !t.IsZero() {
			return t
		}
	}
	return fallback
}

// ModeOf returns the entry's permission bits, or a default for its kind.
func ModeOf(e Entry) fs.FileMode {
	if m, ok := e.(Moder); ok {
		if mode := m.Mode(); mode.Perm() != 0 {
			return mode
		}
	}
	if e.IsDir() {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

var (
	_ Entry    = (*File)(nil)
	_ Sizer    = (*File)(nil)
	_ ModTimer = (*File)(nil)
	_ Moder    = (*File)(nil)
)

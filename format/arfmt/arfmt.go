// Package arfmt adapts Unix ar archives to the archive Source and Sink
// contract.
//
// The codec reads the common ar dialects: classic 16-byte names, BSD names
// stored ahead of the content ("#1/N") and GNU names terminated by "/" with a
// "//" long-name table. It writes the BSD dialect. ar has no directories, and
// every member needs its size before its content, so a Sink spools content
// of unknown length.
package arfmt

import (
	"errors"
	"io/fs"
	"time"

	"github.com/meigma/changeset/archive"
)

// Magic is the global ar header.
const Magic = "!<arch>\n"

const (
	headerSize   = 60
	nameField    = 16
	bsdPrefix    = "#1/"
	gnuTableName = "//"
	headerTrail  = "`\n"
)

var (
	// ErrFormat is returned for input that is not a well-formed ar archive.
	ErrFormat = errors.New("arfmt: malformed archive")

	// ErrDirectory is returned when a directory entry is written.
	ErrDirectory = errors.New("arfmt: archive cannot hold directories")

	// ErrInvalidName is returned for names the format cannot store.
	ErrInvalidName = errors.New("arfmt: invalid member name")

	// ErrFieldOverflow is returned when a header value does not fit its field.
	ErrFieldOverflow = errors.New("arfmt: header value too large")

	// ErrWriteTooLong is returned when more content is written than the
	// header declared.
	ErrWriteTooLong = errors.New("arfmt: write too long")

	// ErrShortWrite is returned when a member ends before its declared size.
	ErrShortWrite = errors.New("arfmt: member shorter than header size")
)

// Header describes one ar member.
type Header struct {
	Name    string
	ModTime time.Time
	UID     int
	GID     int
	Mode    int64
	Size    int64
}

// Entry is an ar member.
type Entry struct {
	Header Header
}

// NewEntry returns an entry for name with mode 0644 and unknown size.
func NewEntry(name string) *Entry {
	return &Entry{Header: Header{Name: name, Mode: 0o644, Size: -1}}
}

// Name implements archive.Entry.
func (e *Entry) Name() string { return e.Header.Name }

// IsDir implements archive.Entry. ar members are never directories.
func (e *Entry) IsDir() bool { return false }

// Size implements archive.Sizer.
func (e *Entry) Size() int64 { return e.Header.Size }

// ModTime implements archive.ModTimer.
func (e *Entry) ModTime() time.Time { return e.Header.ModTime }

// Mode implements archive.Moder.
func (e *Entry) Mode() fs.FileMode { return fs.FileMode(e.Header.Mode).Perm() } //nolint:gosec // masked to permission bits

var (
	_ archive.Entry    = (*Entry)(nil)
	_ archive.Sizer    = (*Entry)(nil)
	_ archive.ModTimer = (*Entry)(nil)
	_ archive.Moder    = (*Entry)(nil)
)

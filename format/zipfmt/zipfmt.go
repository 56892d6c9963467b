// Package zipfmt adapts zip archives to the archive Source and Sink contract
// using klauspost/compress/zip.
//
// Zip keeps its directory at the end of the file, so a Source needs random
// access to the input. Entries are still served in central directory order,
// one at a time.
package zipfmt

import (
	"io/fs"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/meigma/changeset/archive"
)

// Entry is a zip member.
type Entry struct {
	Header zip.FileHeader

	// sized is set for entries read from an archive, whose header sizes are final.
	sized bool
}

// NewEntry returns an entry for name, deflated by default.
func NewEntry(name string) *Entry {
	e := &Entry{Header: zip.FileHeader{Name: name, Method: zip.Deflate}}
	e.Header.SetMode(0o644)
	return e
}

// Name implements archive.Entry.
func (e *Entry) Name() string { return e.Header.Name }

// IsDir implements archive.Entry.
func (e *Entry) IsDir() bool {
	return archive.IsDirName(e.Header.Name) || e.Header.Mode().IsDir()
}

// Size implements archive.Sizer. Zip records sizes after the content, so a
// fresh entry reports unknown.
func (e *Entry) Size() int64 {
	if e.IsDir() {
		return 0
	}
	if !e.sized {
		return -1
	}
	return int64(e.Header.UncompressedSize64) //nolint:gosec // zip sizes above MaxInt64 are not representable anyway
}

// ModTime implements archive.ModTimer.
func (e *Entry) ModTime() time.Time { return e.Header.Modified }

// Mode implements archive.Moder.
func (e *Entry) Mode() fs.FileMode { return e.Header.Mode() }

var (
	_ archive.Entry    = (*Entry)(nil)
	_ archive.Sizer    = (*Entry)(nil)
	_ archive.ModTimer = (*Entry)(nil)
	_ archive.Moder    = (*Entry)(nil)
)

// Package tarfmt adapts tar streams, optionally gzip or zstd compressed, to
// the archive Source and Sink contract.
package tarfmt

import (
	"archive/tar"
	"io/fs"
	"time"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/compress"
)

// Compression selects stream compression around the tar data.
type Compression = compress.Compression

// Compression values.
const (
	CompressionNone = compress.None
	CompressionGzip = compress.Gzip
	CompressionZstd = compress.Zstd
)

// Entry is a tar member. The header is owned by the entry; sinks copy it
// before writing.
type Entry struct {
	Header *tar.Header
}

// NewEntry returns an entry with a regular-file header for name.
// Set Header.Size before adding it to a change set if the length is known;
// otherwise the sink spools the content to learn it.
func NewEntry(name string) *Entry {
	return &Entry{Header: &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     -1,
	}}
}

// Name implements archive.Entry.
func (e *Entry) Name() string { return e.Header.Name }

// IsDir implements archive.Entry.
func (e *Entry) IsDir() bool {
	return e.Header.Typeflag == tar.TypeDir || archive.IsDirName(e.Header.Name)
}

// Size implements archive.Sizer.
func (e *Entry) Size() int64 {
	if !e.hasContent() {
		return 0
	}
	return e.Header.Size
}

// ModTime implements archive.ModTimer.
func (e *Entry) ModTime() time.Time { return e.Header.ModTime }

// Mode implements archive.Moder.
func (e *Entry) Mode() fs.FileMode {
	mode := fs.FileMode(e.Header.Mode).Perm() //nolint:gosec // permission bits only
	if e.IsDir() {
		mode |= fs.ModeDir
	}
	return mode
}

// hasContent reports whether the header type carries a data section.
func (e *Entry) hasContent() bool {
	switch e.Header.Typeflag {
	case tar.TypeDir, tar.TypeSymlink, tar.TypeLink, tar.TypeChar, tar.TypeBlock, tar.TypeFifo, tar.TypeXGlobalHeader:
		return false
	default:
		return true
	}
}

var (
	_ archive.Entry    = (*Entry)(nil)
	_ archive.Sizer    = (*Entry)(nil)
	_ archive.ModTimer = (*Entry)(nil)
	_ archive.Moder    = (*Entry)(nil)
)

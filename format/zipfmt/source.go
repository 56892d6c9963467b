package zipfmt

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/meigma/changeset/archive"
)

// Source reads entries from a zip archive in central directory order.
type Source struct {
	zr     *zip.Reader
	pos    int
	cur    io.ReadCloser
	closer io.Closer
	closed bool
}

// NewSource returns a Source over the zip archive in r of the given size.
// Close closes r if it implements io.Closer.
func NewSource(r io.ReaderAt, size int64) (*Source, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("zipfmt: open archive: %w", err)
	}
	s := &Source{zr: zr}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// Len returns the number of entries in the archive.
func (s *Source) Len() int { return len(s.zr.File) }

// Next implements archive.Source.
func (s *Source) Next() (archive.Entry, io.Reader, error) {
	if s.closed {
		return nil, nil, io.ErrClosedPipe
	}
	if err := s.closeCurrent(); err != nil {
		return nil, nil, err
	}
	if s.pos >= len(s.zr.File) {
		return nil, nil, io.EOF
	}
	f := s.zr.File[s.pos]
	s.pos++

	rc, err := f.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("zipfmt: open %s: %w", f.Name, err)
	}
	s.cur = rc
	return &Entry{Header: f.FileHeader, sized: true}, rc, nil
}

func (s *Source) closeCurrent() error {
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}

// Close implements archive.Source.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.closeCurrent()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ archive.Source = (*Source)(nil)

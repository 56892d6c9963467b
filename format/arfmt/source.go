package arfmt

import (
	"io"

	"github.com/meigma/changeset/archive"
)

// Source reads entries from an ar archive.
type Source struct {
	ar     *Reader
	closer io.Closer
	closed bool
}

// NewSource returns a Source reading from r. Close closes r if it implements
// io.Closer.
func NewSource(r io.Reader) *Source {
	s := &Source{ar: NewReader(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Next implements archive.Source.
func (s *Source) Next() (archive.Entry, io.Reader, error) {
	if s.closed {
		return nil, nil, io.ErrClosedPipe
	}
	hdr, err := s.ar.Next()
	if err != nil {
		return nil, nil, err
	}
	return &Entry{Header: *hdr}, s.ar, nil
}

// Close implements archive.Source.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

var _ archive.Source = (*Source)(nil)

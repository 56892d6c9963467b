package tarfmt

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/compress"
)

// Source reads entries from a tar stream.
type Source struct {
	tr     *tar.Reader
	dec    io.ReadCloser
	closer io.Closer
	closed bool
}

// SourceOption configures a Source.
type SourceOption func(*sourceConfig)

type sourceConfig struct {
	compression Compression
	detect      bool
}

// SourceWithCompression forces the stream compression instead of detecting it.
func SourceWithCompression(c Compression) SourceOption {
	return func(cfg *sourceConfig) {
		cfg.compression = c
		cfg.detect = false
	}
}

// NewSource returns a Source reading a tar stream from r. Gzip and zstd
// compression are detected from the stream header unless
// SourceWithCompression is given. Close closes r if it implements io.Closer.
func NewSource(r io.Reader, opts ...SourceOption) (*Source, error) {
	cfg := sourceConfig{detect: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Source{}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}

	br := bufio.NewReader(r)
	if cfg.detect {
		c, err := compress.Detect(br)
		if err != nil {
			return nil, fmt.Errorf("tarfmt: detect compression: %w", err)
		}
		cfg.compression = c
	}
	dec, err := compress.NewReader(br, cfg.compression)
	if err != nil {
		return nil, fmt.Errorf("tarfmt: %w", err)
	}
	s.dec = dec
	s.tr = tar.NewReader(dec)
	return s, nil
}

// Next implements archive.Source. Unread content of the previous entry is
// skipped.
func (s *Source) Next() (archive.Entry, io.Reader, error) {
	if s.closed {
		return nil, nil, io.ErrClosedPipe
	}
	hdr, err := s.tr.Next()
	if err != nil {
		return nil, nil, err
	}
	return &Entry{Header: hdr}, s.tr, nil
}

// Close implements archive.Source.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.dec.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ archive.Source = (*Source)(nil)

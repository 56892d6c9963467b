package zipfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/iox"
	"github.com/meigma/changeset/internal/pathutil"
)

// ErrFinished is returned when a sink is used after Finish or Close.
var ErrFinished = errors.New("zipfmt: sink already finished")

// Extra field tags the writer regenerates from the header.
const (
	zip64ExtraID     = 0x0001
	extTimeExtraID   = 0x5455
	extraHeaderBytes = 4
)

// HeaderFunc inspects or adjusts a header before it is written.
// index is the zero-based position of the entry in the output.
type HeaderFunc func(index int, h *zip.FileHeader) error

// Sink writes entries to a zip archive.
type Sink struct {
	cfg    sinkConfig
	zw     *zip.Writer
	closer io.Closer
	count  int

	finished bool
	closed   bool
}

// SinkOption configures a Sink.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	method  uint16
	modTime time.Time
	comment string
	hooks   []HeaderFunc
}

// SinkWithMethod sets the compression method for entries that are not
// already zip entries. The default is zip.Deflate.
func SinkWithMethod(method uint16) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.method = method
	}
}

// SinkWithModTime sets the modification time given to entries that carry none.
// The default is the time the sink was created.
func SinkWithModTime(t time.Time) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.modTime = t
	}
}

// SinkWithComment sets the archive comment written by Finish.
func SinkWithComment(comment string) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.comment = comment
	}
}

// SinkWithHeaderFunc adds a hook run on every header before it is written.
// Hooks run in the order given; an error aborts the write.
func SinkWithHeaderFunc(fn HeaderFunc) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.hooks = append(cfg.hooks, fn)
	}
}

// NewSink returns a Sink writing a zip archive to w.
// Close closes w if it implements io.Closer.
func NewSink(w io.Writer, opts ...SinkOption) *Sink {
	cfg := sinkConfig{method: zip.Deflate, modTime: time.Now()}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Sink{cfg: cfg, zw: zip.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Write implements archive.Sink.
func (s *Sink) Write(e archive.Entry, content io.Reader) error {
	if s.finished || s.closed {
		return ErrFinished
	}
	hdr := s.header(e)
	for _, fn := range s.cfg.hooks {
		if err := fn(s.count, hdr); err != nil {
			return err
		}
	}

	fw, err := s.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zipfmt: create %s: %w", hdr.Name, err)
	}
	s.count++
	if archive.IsDirName(hdr.Name) {
		_, err := iox.Drain(content)
		return err
	}
	_, err = io.Copy(fw, content)
	return err
}

// header returns a fresh header for e, copying it when e is a zip entry.
func (s *Sink) header(e archive.Entry) *zip.FileHeader {
	if ze, ok := e.(*Entry); ok {
		hdr := ze.Header
		hdr.Extra = stripExtra(hdr.Extra, zip64ExtraID, extTimeExtraID)
		if hdr.Modified.IsZero() {
			hdr.Modified = s.cfg.modTime
		}
		if ze.IsDir() {
			hdr.Name = pathutil.DirPrefix(hdr.Name)
		}
		return &hdr
	}

	hdr := &zip.FileHeader{
		Name:     pathutil.Clean(e.Name()),
		Method:   s.cfg.method,
		Modified: archive.ModTimeOf(e, s.cfg.modTime),
	}
	if e.IsDir() {
		hdr.Name = pathutil.DirPrefix(hdr.Name)
	}
	hdr.SetMode(archive.ModeOf(e))
	return hdr
}

// Finish implements archive.Sink. It writes the central directory.
func (s *Sink) Finish() error {
	if s.finished || s.closed {
		return ErrFinished
	}
	s.finished = true
	if s.cfg.comment != "" {
		if err := s.zw.SetComment(s.cfg.comment); err != nil {
			return err
		}
	}
	return s.zw.Close()
}

// Close implements archive.Sink. Without Finish the archive has no central
// directory.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Count returns the number of entries written so far.
func (s *Sink) Count() int { return s.count }

// stripExtra removes extra field records with the given tags. Malformed
// trailing data is dropped.
func stripExtra(extra []byte, tags ...uint16) []byte {
	if len(extra) == 0 {
		return nil
	}
	out := make([]byte, 0, len(extra))
	for len(extra) >= extraHeaderBytes {
		tag := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if extraHeaderBytes+size > len(extra) {
			break
		}
		record := extra[:extraHeaderBytes+size]
		extra = extra[extraHeaderBytes+size:]
		if !slices.Contains(tags, tag) {
			out = append(out, record...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var _ archive.Sink = (*Sink)(nil)

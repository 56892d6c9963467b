package tarfmt

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/compress"
	"github.com/meigma/changeset/internal/iox"
	"github.com/meigma/changeset/internal/pathutil"
	"github.com/meigma/changeset/internal/spool"
)

var (
	// ErrSizeMismatch is returned when an entry's content length differs
	// from the size in its header.
	ErrSizeMismatch = errors.New("tarfmt: content size does not match header")

	// ErrFinished is returned when a sink is used after Finish or Close.
	ErrFinished = errors.New("tarfmt: sink already finished")
)

// Sink writes entries to a tar stream.
type Sink struct {
	cfg    sinkConfig
	tw     *tar.Writer
	comp   io.WriteCloser
	closer io.Closer

	finished bool
	closed   bool
}

// SinkOption configures a Sink.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	compression Compression
	spoolDir    string
	modTime     time.Time
	logger      *slog.Logger
}

// SinkWithCompression compresses the tar stream with c.
func SinkWithCompression(c Compression) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.compression = c
	}
}

// SinkWithSpoolDir sets where content of unknown length is staged.
// The default is os.TempDir.
func SinkWithSpoolDir(dir string) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.spoolDir = dir
	}
}

// SinkWithModTime sets the modification time given to entries that carry none.
// The default is the time the sink was created.
func SinkWithModTime(t time.Time) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.modTime = t
	}
}

// SinkWithLogger sets the logger for the sink.
// If not set, logging is disabled.
func SinkWithLogger(logger *slog.Logger) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.logger = logger
	}
}

// NewSink returns a Sink writing a tar stream to w.
// Close closes w if it implements io.Closer.
func NewSink(w io.Writer, opts ...SinkOption) (*Sink, error) {
	cfg := sinkConfig{modTime: time.Now()}
	for _, opt := range opts {
		opt(&cfg)
	}

	comp, err := compress.NewWriter(w, cfg.compression)
	if err != nil {
		return nil, fmt.Errorf("tarfmt: %w", err)
	}
	s := &Sink{cfg: cfg, comp: comp, tw: tar.NewWriter(comp)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Sink) log() *slog.Logger {
	if s.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.cfg.logger
}

// Write implements archive.Sink.
func (s *Sink) Write(e archive.Entry, content io.Reader) error {
	if s.finished || s.closed {
		return ErrFinished
	}
	hdr := s.header(e)
	te := &Entry{Header: hdr}

	if !te.hasContent() {
		hdr.Size = 0
		if err := s.tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := iox.Drain(content)
		return err
	}

	if hdr.Size < 0 {
		sf, err := spool.New(s.cfg.spoolDir, content)
		if err != nil {
			return err
		}
		defer sf.Close()
		s.log().Debug("spooled entry of unknown size", "name", hdr.Name, "size", sf.Size())
		hdr.Size = sf.Size()
		content = sf
	}

	if err := s.tw.WriteHeader(hdr); err != nil {
		return err
	}
	n, err := io.CopyN(s.tw, content, hdr.Size)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: got %d of %d bytes", ErrSizeMismatch, hdr.Name, n, hdr.Size)
	}
	if err != nil {
		return err
	}
	extra, err := iox.Drain(content)
	if err != nil {
		return err
	}
	if extra > 0 {
		return fmt.Errorf("%w: %s: %d bytes past declared size %d", ErrSizeMismatch, hdr.Name, extra, hdr.Size)
	}
	return nil
}

// header returns a tar header for e, copying it when e is a tar entry.
func (s *Sink) header(e archive.Entry) *tar.Header {
	if te, ok := e.(*Entry); ok {
		hdr := *te.Header
		if hdr.ModTime.IsZero() {
			hdr.ModTime = s.cfg.modTime
		}
		return &hdr
	}

	name := pathutil.Clean(e.Name())
	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(archive.ModeOf(e).Perm()),
		ModTime: archive.ModTimeOf(e, s.cfg.modTime),
	}
	if e.IsDir() {
		hdr.Typeflag = tar.TypeDir
		hdr.Name = pathutil.DirPrefix(name)
		return hdr
	}
	hdr.Typeflag = tar.TypeReg
	hdr.Size = archive.SizeOf(e)
	return hdr
}

// Finish implements archive.Sink. It writes the tar trailer and flushes the
// compressor.
func (s *Sink) Finish() error {
	if s.finished || s.closed {
		return ErrFinished
	}
	s.finished = true
	if err := s.tw.Close(); err != nil {
		return err
	}
	return s.comp.Close()
}

// Close implements archive.Sink. Without Finish the stream is left without
// its trailer.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if !s.finished {
		// Release encoder resources; the stream is incomplete either way.
		err = s.comp.Close()
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ archive.Sink = (*Sink)(nil)

package arfmt

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/iox"
	"github.com/meigma/changeset/internal/pathutil"
	"github.com/meigma/changeset/internal/spool"
)

// ErrFinished is returned when a sink is used after Finish or Close.
var ErrFinished = errors.New("arfmt: sink already finished")

// Sink writes entries to an ar archive.
type Sink struct {
	cfg    sinkConfig
	aw     *Writer
	closer io.Closer

	finished bool
	closed   bool
}

// SinkOption configures a Sink.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	spoolDir string
	modTime  time.Time
	uid, gid int
	logger   *slog.Logger
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

// SinkWithOwner sets the owner recorded for entries that are not ar entries.
// The default is 0:0.
func SinkWithOwner(uid, gid int) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.uid = uid
		cfg.gid = gid
	}
}

// SinkWithLogger sets the logger for the sink.
// If not set, logging is disabled.
func SinkWithLogger(logger *slog.Logger) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.logger = logger
	}
}

// NewSink returns a Sink writing an ar archive to w.
// Close closes w if it implements io.Closer.
func NewSink(w io.Writer, opts ...SinkOption) *Sink {
	cfg := sinkConfig{modTime: time.Now()}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Sink{cfg: cfg, aw: NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Sink) log() *slog.Logger {
	if s.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.cfg.logger
}

// Write implements archive.Sink. Directory entries are rejected with
// ErrDirectory.
func (s *Sink) Write(e archive.Entry, content io.Reader) error {
	if s.finished || s.closed {
		return ErrFinished
	}
	if e.IsDir() {
		return fmt.Errorf("%w: %s", ErrDirectory, e.Name())
	}
	hdr := s.header(e)

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

	if err := s.aw.WriteHeader(&hdr); err != nil {
		return err
	}
	n, err := io.CopyN(s.aw, content, hdr.Size)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: got %d of %d bytes", ErrShortWrite, hdr.Name, n, hdr.Size)
	}
	if err != nil {
		return err
	}
	extra, err := iox.Drain(content)
	if err != nil {
		return err
	}
	if extra > 0 {
		return fmt.Errorf("%w: %s: %d bytes past declared size %d", ErrWriteTooLong, hdr.Name, extra, hdr.Size)
	}
	return nil
}

// header returns an ar header for e, copying it when e is an ar entry.
func (s *Sink) header(e archive.Entry) Header {
	if ae, ok := e.(*Entry); ok {
		hdr := ae.Header
		if hdr.ModTime.IsZero() {
			hdr.ModTime = s.cfg.modTime
		}
		return hdr
	}
	return Header{
		Name:    pathutil.Clean(e.Name()),
		ModTime: archive.ModTimeOf(e, s.cfg.modTime),
		UID:     s.cfg.uid,
		GID:     s.cfg.gid,
		Mode:    int64(archive.ModeOf(e).Perm()),
		Size:    archive.SizeOf(e),
	}
}

// Finish implements archive.Sink. It completes the last member.
func (s *Sink) Finish() error {
	if s.finished || s.closed {
		return ErrFinished
	}
	s.finished = true
	return s.aw.Close()
}

// Close implements archive.Sink.
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

var _ archive.Sink = (*Sink)(nil)

package format

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/format/arfmt"
	"github.com/meigma/changeset/format/jarfmt"
	"github.com/meigma/changeset/format/tarfmt"
	"github.com/meigma/changeset/format/zipfmt"
)

// File is the input of a Source. Zip and jar read through ReadAt; the
// other formats stream through Read.
type File interface {
	io.Reader
	io.ReaderAt
}

// NewSource returns a Source reading an archive of format f from r, which
// holds size bytes. Closing the Source closes r if it implements io.Closer.
func NewSource(f Format, r File, size int64) (archive.Source, error) {
	switch f {
	case Tar, TarGzip, TarZstd:
		src, err := tarfmt.NewSource(r)
		if err != nil {
			return nil, err
		}
		return src, nil
	case Zip:
		src, err := zipfmt.NewSource(r, size)
		if err != nil {
			return nil, err
		}
		return src, nil
	case Jar:
		src, err := jarfmt.NewSource(r, size)
		if err != nil {
			return nil, err
		}
		return src, nil
	case Ar:
		return arfmt.NewSource(r), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// SinkOption configures the Sink returned by NewSink.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	spoolDir string
	modTime  time.Time
	logger   *slog.Logger
}

// SinkWithSpoolDir sets where tar and ar sinks stage content of unknown
// length. The default is os.TempDir.
func SinkWithSpoolDir(dir string) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.spoolDir = dir
	}
}

// SinkWithModTime sets the modification time given to entries that carry none.
func SinkWithModTime(t time.Time) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.modTime = t
	}
}

// SinkWithLogger sets the logger passed to sinks that log.
func SinkWithLogger(logger *slog.Logger) SinkOption {
	return func(cfg *sinkConfig) {
		cfg.logger = logger
	}
}

// NewSink returns a Sink writing an archive of format f to w.
// Closing the Sink closes w if it implements io.Closer.
func NewSink(f Format, w io.Writer, opts ...SinkOption) (archive.Sink, error) {
	cfg := sinkConfig{modTime: time.Now()}
	for _, opt := range opts {
		opt(&cfg)
	}

	switch f {
	case Tar, TarGzip, TarZstd:
		comp := tarfmt.CompressionNone
		switch f {
		case TarGzip:
			comp = tarfmt.CompressionGzip
		case TarZstd:
			comp = tarfmt.CompressionZstd
		}
		tarOpts := []tarfmt.SinkOption{
			tarfmt.SinkWithCompression(comp),
			tarfmt.SinkWithSpoolDir(cfg.spoolDir),
			tarfmt.SinkWithModTime(cfg.modTime),
		}
		if cfg.logger != nil {
			tarOpts = append(tarOpts, tarfmt.SinkWithLogger(cfg.logger))
		}
		sink, err := tarfmt.NewSink(w, tarOpts...)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case Zip:
		return zipfmt.NewSink(w, zipfmt.SinkWithModTime(cfg.modTime)), nil
	case Jar:
		return jarfmt.NewSink(w, zipfmt.SinkWithModTime(cfg.modTime)), nil
	case Ar:
		arOpts := []arfmt.SinkOption{
			arfmt.SinkWithSpoolDir(cfg.spoolDir),
			arfmt.SinkWithModTime(cfg.modTime),
		}
		if cfg.logger != nil {
			arOpts = append(arOpts, arfmt.SinkWithLogger(cfg.logger))
		}
		return arfmt.NewSink(w, arOpts...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

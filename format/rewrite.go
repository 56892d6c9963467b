package format

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/meigma/changeset"
	changesethttp "github.com/meigma/changeset/http"
	"github.com/meigma/changeset/internal/iox"
)

// ErrInPlace is returned when Rewrite is asked to write over its source.
var ErrInPlace = errors.New("format: source and destination are the same file")

// RewriteOption configures Rewrite.
type RewriteOption func(*rewriteConfig)

type rewriteConfig struct {
	format      Format
	performOpts []changeset.PerformOption
	sinkOpts    []SinkOption
	httpOpts    []changesethttp.Option
	logger      *slog.Logger
}

// WithFormat sets the archive format instead of detecting it from the
// source file name.
func WithFormat(f Format) RewriteOption {
	return func(cfg *rewriteConfig) {
		cfg.format = f
	}
}

// WithPerformOptions passes options to the change set performer.
func WithPerformOptions(opts ...changeset.PerformOption) RewriteOption {
	return func(cfg *rewriteConfig) {
		cfg.performOpts = append(cfg.performOpts, opts...)
	}
}

// WithSinkOptions passes options to the destination sink.
func WithSinkOptions(opts ...SinkOption) RewriteOption {
	return func(cfg *rewriteConfig) {
		cfg.sinkOpts = append(cfg.sinkOpts, opts...)
	}
}

// WithHTTPOptions configures how a source given as an http or https URL is
// fetched.
func WithHTTPOptions(opts ...changesethttp.Option) RewriteOption {
	return func(cfg *rewriteConfig) {
		cfg.httpOpts = append(cfg.httpOpts, opts...)
	}
}

// WithLogger sets the logger for Rewrite. It is also handed to the performer
// and the sink unless they were given their own.
func WithLogger(logger *slog.Logger) RewriteOption {
	return func(cfg *rewriteConfig) {
		cfg.logger = logger
	}
}

func (cfg *rewriteConfig) log() *slog.Logger {
	if cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return cfg.logger
}

// Rewrite applies cs to the archive at srcPath and writes the result to
// dstPath. srcPath may be an http or https URL, read with range requests.
//
// The result is written to a temp file in the destination directory and
// renamed into place only on success, so dstPath is either the complete new
// archive or left as it was. The destination gets the source's permission
// bits, or 0644 for a remote source. Writing over the source is refused with
// ErrInPlace.
func Rewrite(ctx context.Context, srcPath, dstPath string, cs *changeset.ChangeSet, opts ...RewriteOption) (changeset.Result, error) {
	var cfg rewriteConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	f := cfg.format
	if f == "" {
		name := srcPath
		if isURL(name) {
			name, _, _ = strings.Cut(name, "?")
		}
		detected, err := Detect(name)
		if err != nil {
			return changeset.Result{}, err
		}
		f = detected
	}
	in, mode, err := openSource(ctx, srcPath, dstPath, cfg.httpOpts)
	if err != nil {
		return changeset.Result{}, err
	}
	src, err := NewSource(f, in, in.Size())
	if err != nil {
		in.Close()
		return changeset.Result{}, err
	}

	dir := filepath.Dir(dstPath)
	tmp, err := os.CreateTemp(dir, ".changeset-*")
	if err != nil {
		src.Close()
		return changeset.Result{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) (changeset.Result, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return changeset.Result{}, err
	}

	// The sink must not close tmp; it is synced and renamed below.
	out := &iox.CountingWriter{W: tmp}
	sinkOpts := cfg.sinkOpts
	if cfg.logger != nil {
		sinkOpts = append([]SinkOption{SinkWithLogger(cfg.logger)}, sinkOpts...)
	}
	sinkOpts = append([]SinkOption{SinkWithSpoolDir(dir)}, sinkOpts...)
	dst, err := NewSink(f, out, sinkOpts...)
	if err != nil {
		src.Close()
		return fail(err)
	}

	performOpts := cfg.performOpts
	if cfg.logger != nil {
		performOpts = append([]changeset.PerformOption{changeset.WithLogger(cfg.logger)}, performOpts...)
	}
	res, err := changeset.Perform(ctx, cs, src, dst, performOpts...)
	if err != nil {
		return fail(err)
	}

	if err := tmp.Chmod(mode); err != nil {
		return fail(fmt.Errorf("chmod temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return changeset.Result{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		os.Remove(tmpPath)
		return changeset.Result{}, fmt.Errorf("rename temp file: %w", err)
	}

	cfg.log().Info("archive rewritten",
		"format", f.String(), "source", srcPath, "destination", dstPath,
		"size", out.N, "result", res.String())
	return res, nil
}

// sourceFile is an opened source archive.
type sourceFile interface {
	File
	io.Closer
	Size() int64
}

type localFile struct {
	*os.File
	size int64
}

func (f localFile) Size() int64 { return f.size }

// openSource opens a local path or a remote URL and returns it with the
// permission bits the destination should get.
func openSource(ctx context.Context, srcPath, dstPath string, httpOpts []changesethttp.Option) (sourceFile, os.FileMode, error) {
	if isURL(srcPath) {
		f, err := changesethttp.Open(ctx, srcPath, httpOpts...)
		if err != nil {
			return nil, 0, fmt.Errorf("open source: %w", err)
		}
		return f, 0o644, nil
	}

	if err := checkDistinct(srcPath, dstPath); err != nil {
		return nil, 0, err
	}
	in, err := os.Open(srcPath)
	if err != nil {
		return nil, 0, fmt.Errorf("open source: %w", err)
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return nil, 0, fmt.Errorf("stat source: %w", err)
	}
	return localFile{File: in, size: info.Size()}, info.Mode().Perm(), nil
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// checkDistinct refuses a destination that is the source file itself.
func checkDistinct(srcPath, dstPath string) error {
	srcAbs, err := filepath.Abs(srcPath)
	if err != nil {
		return err
	}
	dstAbs, err := filepath.Abs(dstPath)
	if err != nil {
		return err
	}
	if srcAbs == dstAbs {
		return fmt.Errorf("%w: %s", ErrInPlace, srcPath)
	}
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	dstInfo, err := os.Stat(dstPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat destination: %w", err)
	}
	if os.SameFile(srcInfo, dstInfo) {
		return fmt.Errorf("%w: %s", ErrInPlace, srcPath)
	}
	return nil
}

// Package format maps archive format names to their Source and Sink
// adapters and rewrites archive files on disk.
//
// Use [Detect] to pick a format from a file name, [NewSource] and [NewSink]
// to build the adapters, and [Rewrite] to apply a change set to a file.
package format

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format names an archive format.
type Format string

// Supported formats.
const (
	Tar     Format = "tar"
	TarGzip Format = "tar.gz"
	TarZstd Format = "tar.zst"
	Zip     Format = "zip"
	Jar     Format = "jar"
	Ar      Format = "ar"
)

// ErrUnknownFormat is returned for names no adapter handles.
var ErrUnknownFormat = errors.New("format: unknown archive format")

// suffixes maps file name suffixes to formats. Longer suffixes come first.
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", TarGzip},
	{".tar.zst", TarZstd},
	{".tgz", TarGzip},
	{".tzst", TarZstd},
	{".tar", Tar},
	{".zip", Zip},
	{".jar", Jar},
	{".war", Jar},
	{".ear", Jar},
	{".ar", Ar},
	{".a", Ar},
	{".deb", Ar},
}

// Detect returns the format for a file name, judged by its extension.
// Matching ignores case.
func Detect(name string) (Format, error) {
	lower := strings.ToLower(filepath.Base(name))
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

// Parse returns the format with the given name.
func Parse(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case Tar, TarGzip, TarZstd, Zip, Jar, Ar:
		return f, nil
	case "tgz":
		return TarGzip, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// String returns the format name.
func (f Format) String() string { return string(f) }

// RandomAccess reports whether the format needs an io.ReaderAt to be read.
func (f Format) RandomAccess() bool {
	return f == Zip || f == Jar
}

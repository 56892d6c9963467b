// Package jarfmt adapts jar archives to the archive Source and Sink contract.
//
// A jar is a zip archive with two conventions on top: the first entry carries
// the 0xCAFE marker extra field, and META-INF/MANIFEST.MF is either the first
// entry or directly follows META-INF/. The Sink enforces both; the Source is
// a plain zip source.
package jarfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/format/zipfmt"
)

// Jar layout constants.
const (
	// MarkerExtraID tags the extra field that identifies a jar.
	MarkerExtraID = 0xCAFE

	// ManifestName is the path of the jar manifest.
	ManifestName = "META-INF/MANIFEST.MF"

	// ManifestDir is the directory holding the manifest.
	ManifestDir = "META-INF/"
)

// ErrManifestPosition is returned when the manifest is written anywhere other
// than first or directly after META-INF/.
var ErrManifestPosition = errors.New("jarfmt: manifest must be the first entry or follow " + ManifestDir)

// NewSource returns a Source over the jar in r of the given size.
func NewSource(r io.ReaderAt, size int64) (*zipfmt.Source, error) {
	src, err := zipfmt.NewSource(r, size)
	if err != nil {
		return nil, fmt.Errorf("jarfmt: %w", err)
	}
	return src, nil
}

// NewEntry returns a deflated jar entry for name.
func NewEntry(name string) *zipfmt.Entry {
	return zipfmt.NewEntry(name)
}

// Sink writes a jar archive.
type Sink struct {
	*zipfmt.Sink
	prev string
}

// NewSink returns a Sink writing a jar to w. opts configure the underlying
// zip writer.
func NewSink(w io.Writer, opts ...zipfmt.SinkOption) *Sink {
	s := &Sink{}
	opts = append(opts, zipfmt.SinkWithHeaderFunc(s.check))
	s.Sink = zipfmt.NewSink(w, opts...)
	return s
}

// check is run on every header before it is written.
func (s *Sink) check(index int, h *zip.FileHeader) error {
	if strings.EqualFold(h.Name, ManifestName) {
		if index > 1 || (index == 1 && !strings.EqualFold(s.prev, ManifestDir)) {
			return fmt.Errorf("%w: found at position %d", ErrManifestPosition, index)
		}
	}
	if index == 0 && !HasMarker(h.Extra) {
		h.Extra = append(marker(), h.Extra...)
	}
	s.prev = h.Name
	return nil
}

// HasMarker reports whether extra contains the jar marker field.
func HasMarker(extra []byte) bool {
	for len(extra) >= 4 {
		if binary.LittleEndian.Uint16(extra[0:2]) == MarkerExtraID {
			return true
		}
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		if 4+size > len(extra) {
			return false
		}
		extra = extra[4+size:]
	}
	return false
}

func marker() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b, MarkerExtraID)
	return b
}

var _ archive.Sink = (*Sink)(nil)

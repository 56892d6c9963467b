// Package iox holds small io helpers shared by the performer and the format
// adapters.
package iox

import (
	"errors"
	"io"
)

// ErrOverflow is returned once a byte count no longer fits in a uint64.
var ErrOverflow = errors.New("iox: byte count overflow")

// CountingReader counts the bytes read through R into N.
type CountingReader struct {
	R io.Reader
	N uint64
}

// Read implements io.Reader.
func (cr *CountingReader) Read(p []byte) (int, error) {
	n, err := cr.R.Read(p)
	if cerr := count(&cr.N, n); cerr != nil {
		return n, cerr
	}
	return n, err
}

// CountingWriter counts the bytes written through W into N.
type CountingWriter struct {
	W io.Writer
	N uint64
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	if cerr := count(&cw.N, n); cerr != nil {
		return n, cerr
	}
	return n, err
}

// count adds n to total, leaving total unchanged on overflow.
func count(total *uint64, n int) error {
	if n <= 0 {
		return nil
	}
	add := uint64(n)
	if *total > ^uint64(0)-add {
		return ErrOverflow
	}
	*total += add
	return nil
}

package iox

import "io"

// TagReader remembers the first non-EOF error returned by the wrapped reader.
//
// When a reader is handed to a consumer that both reads and writes (such as
// a sink), the recorded error tells the caller which side failed.
type TagReader struct {
	R   io.Reader
	Err error
}

// Read implements io.Reader.
func (t *TagReader) Read(p []byte) (int, error) {
	n, err := t.R.Read(p)
	if err != nil && err != io.EOF && t.Err == nil {
		t.Err = err
	}
	return n, err
}

// Drain reads r to EOF, discarding the content. It returns the number of
// bytes discarded.
func Drain(r io.Reader) (int64, error) {
	if r == nil {
		return 0, nil
	}
	return io.Copy(io.Discard, r)
}

// Tee returns a reader that writes everything read from r to w.
// A nil w returns r unchanged.
func Tee(r io.Reader, w io.Writer) io.Reader {
	if w == nil {
		return r
	}
	return io.TeeReader(r, w)
}

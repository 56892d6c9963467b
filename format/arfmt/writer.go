package arfmt

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Writer writes an ar archive in the BSD dialect.
//
// Names longer than 16 bytes or containing spaces are stored ahead of the
// content with a "#1/N" header name.
type Writer struct {
	w         io.Writer
	started   bool
	remaining int64
	pad       bool
}

// NewWriter returns a Writer writing to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader starts a new member. The previous member must be complete.
func (w *Writer) WriteHeader(hdr *Header) error {
	if err := w.endMember(); err != nil {
		return err
	}
	if hdr.Name == "" || strings.ContainsAny(hdr.Name, "\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, hdr.Name)
	}
	if hdr.Size < 0 {
		return fmt.Errorf("%w: %s: negative size", ErrFieldOverflow, hdr.Name)
	}

	name := hdr.Name
	var long string
	if len(name) > nameField || strings.Contains(name, " ") || strings.HasPrefix(name, bsdPrefix) {
		long = name
		name = bsdPrefix + strconv.Itoa(len(long))
	}
	size := hdr.Size + int64(len(long))

	var mtime int64
	if !hdr.ModTime.IsZero() {
		mtime = hdr.ModTime.Unix()
	}

	var b strings.Builder
	b.Grow(headerSize)
	fields := []struct {
		value string
		width int
	}{
		{name, nameField},
		{strconv.FormatInt(mtime, 10), 12},
		{strconv.Itoa(hdr.UID), 6},
		{strconv.Itoa(hdr.GID), 6},
		{strconv.FormatInt(hdr.Mode, 8), 8},
		{strconv.FormatInt(size, 10), 10},
	}
	for _, f := range fields {
		if len(f.value) > f.width || strings.HasPrefix(f.value, "-") {
			return fmt.Errorf("%w: %s: %q", ErrFieldOverflow, hdr.Name, f.value)
		}
		b.WriteString(f.value)
		b.WriteString(strings.Repeat(" ", f.width-len(f.value)))
	}
	b.WriteString(headerTrail)

	if err := w.start(); err != nil {
		return err
	}
	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return err
	}
	if _, err := io.WriteString(w.w, long); err != nil {
		return err
	}
	w.remaining = hdr.Size
	w.pad = size%2 == 1
	return nil
}

// Write writes content for the current member.
func (w *Writer) Write(p []byte) (int, error) {
	var tooLong bool
	if int64(len(p)) > w.remaining {
		p = p[:w.remaining]
		tooLong = true
	}
	n, err := w.w.Write(p)
	w.remaining -= int64(n)
	if err == nil && tooLong {
		err = ErrWriteTooLong
	}
	return n, err
}

// Close completes the last member. An empty archive still gets the magic.
// Close does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.endMember(); err != nil {
		return err
	}
	return w.start()
}

func (w *Writer) start() error {
	if w.started {
		return nil
	}
	w.started = true
	_, err := io.WriteString(w.w, Magic)
	return err
}

func (w *Writer) endMember() error {
	if w.remaining > 0 {
		return fmt.Errorf("%w: %d bytes missing", ErrShortWrite, w.remaining)
	}
	if w.pad {
		w.pad = false
		if _, err := w.w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}

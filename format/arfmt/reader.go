package arfmt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Reader reads the members of an ar archive in order.
type Reader struct {
	r         io.Reader
	started   bool
	remaining int64
	pad       int64
	table     []byte
	err       error
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next advances to the next member, skipping any unread content of the
// current one. It returns io.EOF at the end of the archive.
func (r *Reader) Next() (*Header, error) {
	if r.err != nil {
		return nil, r.err
	}
	hdr, err := r.next()
	if err != nil {
		r.err = err
		return nil, err
	}
	return hdr, nil
}

func (r *Reader) next() (*Header, error) {
	if !r.started {
		r.started = true
		var magic [len(Magic)]byte
		if _, err := io.ReadFull(r.r, magic[:]); err != nil {
			return nil, fmt.Errorf("%w: reading magic: %w", ErrFormat, unexpected(err))
		}
		if string(magic[:]) != Magic {
			return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, magic[:])
		}
	}

	for {
		if err := r.skip(); err != nil {
			return nil, err
		}
		var raw [headerSize]byte
		n, err := io.ReadFull(r.r, raw[:])
		if err != nil {
			if n == 0 && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: reading header: %w", ErrFormat, unexpected(err))
		}
		hdr, err := parseHeader(raw[:])
		if err != nil {
			return nil, err
		}
		r.remaining = hdr.Size
		r.pad = hdr.Size % 2

		switch {
		case hdr.Name == gnuTableName:
			table, err := io.ReadAll(io.LimitReader(r, hdr.Size))
			if err != nil {
				return nil, err
			}
			r.table = table
			continue
		case strings.HasPrefix(hdr.Name, bsdPrefix):
			if err := r.readBSDName(hdr); err != nil {
				return nil, err
			}
		case len(hdr.Name) > 1 && hdr.Name[0] == '/' && isDigits(hdr.Name[1:]):
			if err := r.lookupGNUName(hdr); err != nil {
				return nil, err
			}
		case hdr.Name != "/" && strings.HasSuffix(hdr.Name, "/"):
			hdr.Name = strings.TrimSuffix(hdr.Name, "/")
		}
		return hdr, nil
	}
}

// readBSDName reads a name stored ahead of the content.
func (r *Reader) readBSDName(hdr *Header) error {
	n, err := strconv.ParseInt(hdr.Name[len(bsdPrefix):], 10, 64)
	if err != nil || n < 0 || n > hdr.Size {
		return fmt.Errorf("%w: bad long name %q", ErrFormat, hdr.Name)
	}
	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return fmt.Errorf("%w: reading long name: %w", ErrFormat, unexpected(err))
	}
	hdr.Name = string(bytes.TrimRight(name, "\x00"))
	hdr.Size -= n
	return nil
}

// lookupGNUName resolves a "/offset" reference into the long-name table.
func (r *Reader) lookupGNUName(hdr *Header) error {
	off, err := strconv.Atoi(hdr.Name[1:])
	if err != nil || off >= len(r.table) {
		return fmt.Errorf("%w: long name %q outside name table", ErrFormat, hdr.Name)
	}
	name := r.table[off:]
	if i := bytes.IndexByte(name, '\n'); i >= 0 {
		name = name[:i]
	}
	hdr.Name = strings.TrimSuffix(string(name), "/")
	return nil
}

// skip discards what is left of the current member and its padding.
func (r *Reader) skip() error {
	n := r.remaining + r.pad
	if n == 0 {
		return nil
	}
	padOnly := r.remaining == 0
	r.remaining, r.pad = 0, 0
	_, err := io.CopyN(io.Discard, r.r, n)
	if errors.Is(err, io.EOF) && padOnly {
		// Some writers omit the final padding byte.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: skipping content: %w", ErrFormat, unexpected(err))
	}
	return nil
}

// Read reads the content of the current member.
func (r *Reader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.r.Read(p)
	r.remaining -= int64(n)
	if errors.Is(err, io.EOF) {
		if r.remaining > 0 {
			return n, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}

func parseHeader(raw []byte) (*Header, error) {
	if string(raw[58:60]) != headerTrail {
		return nil, fmt.Errorf("%w: bad header terminator", ErrFormat)
	}
	field := func(from, to int) string {
		return strings.TrimRight(string(raw[from:to]), " ")
	}
	mtime, err := parseNum(field(16, 28), 10)
	if err != nil {
		return nil, err
	}
	uid, err := parseNum(field(28, 34), 10)
	if err != nil {
		return nil, err
	}
	gid, err := parseNum(field(34, 40), 10)
	if err != nil {
		return nil, err
	}
	mode, err := parseNum(field(40, 48), 8)
	if err != nil {
		return nil, err
	}
	size, err := parseNum(field(48, 58), 10)
	if err != nil {
		return nil, err
	}
	return &Header{
		Name:    field(0, nameField),
		ModTime: time.Unix(mtime, 0),
		UID:     int(uid),
		GID:     int(gid),
		Mode:    mode,
		Size:    size,
	}, nil
}

func parseNum(s string, base int) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: bad numeric field %q", ErrFormat, s)
	}
	return v, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

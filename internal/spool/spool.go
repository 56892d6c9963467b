// Package spool stages one entry's content on disk so formats that need the
// content length before the content (tar, ar) can accept streams of unknown
// size without holding them in memory.
package spool

import (
	"fmt"
	"io"
	"os"
)

// File is spooled content positioned at its start.
type File struct {
	f    *os.File
	size int64
}

// New copies r into a temp file in dir (os.TempDir when empty) and rewinds it.
func New(dir string, r io.Reader) (*File, error) {
	tmp, err := os.CreateTemp(dir, ".changeset-spool-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	sf := &File{f: tmp}

	n, err := io.Copy(tmp, r)
	if err != nil {
		sf.Close()
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		sf.Close()
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	sf.size = n
	return sf, nil
}

// Size returns the number of bytes spooled.
func (s *File) Size() int64 { return s.size }

// Read implements io.Reader.
func (s *File) Read(p []byte) (int, error) { return s.f.Read(p) }

// Close closes and removes the temp file.
func (s *File) Close() error {
	name := s.f.Name()
	err := s.f.Close()
	if rmErr := os.Remove(name); rmErr != nil && err == nil && !os.IsNotExist(rmErr) {
		err = rmErr
	}
	return err
}

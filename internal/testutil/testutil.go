// Package testutil provides in-memory archive sources and sinks for tests.
package testutil

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/meigma/changeset/archive"
)

// Item is one in-memory archive member.
type Item struct {
	Name    string
	Dir     bool
	Content []byte
}

// Entry implements archive.Entry for in-memory items.
type Entry struct {
	Path   string
	Folder bool
}

// Name implements archive.Entry.
func (e Entry) Name() string { return e.Path }

// IsDir implements archive.Entry.
func (e Entry) IsDir() bool { return e.Folder || strings.HasSuffix(e.Path, "/") }

// File returns an item for a regular file.
func File(name, content string) Item {
	if content == "" {
		return Item{Name: name}
	}
	return Item{Name: name, Content: []byte(content)}
}

// Dir returns an item for a directory marker.
func Dir(name string) Item {
	return Item{Name: name, Dir: true}
}

// MockSource serves items in order and records how it was used.
type MockSource struct {
	items []Item
	pos   int

	// NextErr, if set, is returned by Next once FailAt entries were served.
	NextErr error
	FailAt  int

	// ContentErr maps an item name to an error its content reader returns
	// after the first byte.
	ContentErr map[string]error

	// CloseErr is returned by Close.
	CloseErr error

	// CloseCalls counts Close invocations.
	CloseCalls int

	// Served counts entries returned by Next.
	Served int
}

// NewMockSource returns a source serving items in order.
func NewMockSource(items ...Item) *MockSource {
	return &MockSource{items: items, FailAt: -1, ContentErr: make(map[string]error)}
}

// Next implements archive.Source.
func (s *MockSource) Next() (archive.Entry, io.Reader, error) {
	if s.NextErr != nil && s.pos == s.FailAt {
		return nil, nil, s.NextErr
	}
	if s.pos >= len(s.items) {
		return nil, nil, io.EOF
	}
	it := s.items[s.pos]
	s.pos++
	s.Served++

	var r io.Reader = bytes.NewReader(it.Content)
	if err, ok := s.ContentErr[it.Name]; ok {
		r = &failingReader{data: it.Content, err: err}
	}
	return Entry{Path: it.Name, Folder: it.Dir}, r, nil
}

// Close implements archive.Source.
func (s *MockSource) Close() error {
	s.CloseCalls++
	return s.CloseErr
}

// MockSink collects written items in memory.
type MockSink struct {
	// Items holds everything written, in order.
	Items []Item

	// WriteErr maps an item name to an error returned by Write after the
	// content was read.
	WriteErr map[string]error

	// FinishErr and CloseErr are returned by Finish and Close.
	FinishErr error
	CloseErr  error

	// FinishCalls and CloseCalls count invocations.
	FinishCalls int
	CloseCalls  int

	// ReadBeforeFail limits how many content bytes Write consumes before
	// failing with a WriteErr. Zero reads the whole content first.
	ReadBeforeFail int
}

// NewMockSink returns an empty sink.
func NewMockSink() *MockSink {
	return &MockSink{WriteErr: make(map[string]error)}
}

// ErrWriteAfterFinish is returned when a sink is written after Finish.
var ErrWriteAfterFinish = errors.New("testutil: write after finish")

// Write implements archive.Sink.
func (s *MockSink) Write(e archive.Entry, content io.Reader) error {
	if s.FinishCalls > 0 || s.CloseCalls > 0 {
		return ErrWriteAfterFinish
	}
	if err, ok := s.WriteErr[e.Name()]; ok {
		if s.ReadBeforeFail > 0 {
			_, _ = io.CopyN(io.Discard, content, int64(s.ReadBeforeFail))
		}
		return err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		data = nil
	}
	s.Items = append(s.Items, Item{Name: e.Name(), Dir: e.IsDir(), Content: data})
	return nil
}

// Finish implements archive.Sink.
func (s *MockSink) Finish() error {
	s.FinishCalls++
	return s.FinishErr
}

// Close implements archive.Sink.
func (s *MockSink) Close() error {
	s.CloseCalls++
	return s.CloseErr
}

// Names returns the names of the written items, in order.
func (s *MockSink) Names() []string {
	names := make([]string, len(s.Items))
	for i, it := range s.Items {
		names[i] = it.Name
	}
	return names
}

// Content returns the content written for name, or nil if absent.
func (s *MockSink) Content(name string) []byte {
	for _, it := range s.Items {
		if it.Name == name {
			return it.Content
		}
	}
	return nil
}

// TrackingReader records whether it was read to EOF and closed.
type TrackingReader struct {
	R       io.Reader
	EOF     bool
	Closed  int
	ReadErr error
}

// NewTrackingReader wraps content in a TrackingReader.
func NewTrackingReader(content string) *TrackingReader {
	return &TrackingReader{R: strings.NewReader(content)}
}

// Read implements io.Reader.
func (t *TrackingReader) Read(p []byte) (int, error) {
	if t.ReadErr != nil {
		return 0, t.ReadErr
	}
	n, err := t.R.Read(p)
	if err == io.EOF {
		t.EOF = true
	}
	return n, err
}

// Close implements io.Closer.
func (t *TrackingReader) Close() error {
	t.Closed++
	return nil
}

type failingReader struct {
	data []byte
	read bool
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read && len(r.data) > 0 && len(p) > 0 {
		r.read = true
		p[0] = r.data[0]
		return 1, nil
	}
	return 0, r.err
}

var (
	_ archive.Source = (*MockSource)(nil)
	_ archive.Sink   = (*MockSink)(nil)
)

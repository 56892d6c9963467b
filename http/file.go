// Package http reads remote archives through HTTP range requests.
//
// A [File] satisfies both io.ReaderAt, for formats that need random access
// such as zip, and io.Reader, for streaming formats such as tar and ar, so
// it can be passed to format.NewSource directly.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
)

var (
	// ErrRangeUnsupported is returned when the server ignores range requests.
	ErrRangeUnsupported = errors.New("http: range requests not supported")

	// ErrClosed is returned when a closed File is read.
	ErrClosed = errors.New("http: file closed")
)

// File is a remote archive read with HTTP range requests.
//
// ReadAt is safe for concurrent use. Read keeps a cursor and one open
// response body, and must not be used concurrently.
type File struct {
	url          string
	client       *nethttp.Client
	headers      nethttp.Header
	ctx          context.Context
	size         int64
	etag         string
	lastModified string
	conditional  bool

	pos    int64
	body   io.ReadCloser
	closed bool
}

// Option configures a File.
type Option func(*File)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(f *File) {
		f.client = client
	}
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) Option {
	return func(f *File) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithConditionalHeaders sends If-Match or If-Unmodified-Since on range
// reads so a file replaced on the server mid-read is detected. Requests that
// fail their precondition are retried once without it.
func WithConditionalHeaders() Option {
	return func(f *File) {
		f.conditional = true
	}
}

// Open probes url and returns a File for it. ctx bounds every request the
// File makes.
func Open(ctx context.Context, url string, opts ...Option) (*File, error) {
	f := &File{url: url, ctx: ctx}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = nethttp.DefaultClient
	}
	if err := f.probe(); err != nil {
		return nil, err
	}
	return f, nil
}

// Size returns the length of the remote content.
func (f *File) Size() int64 { return f.size }

// Name returns the URL the file was opened from.
func (f *File) Name() string { return f.url }

// ReadAt implements io.ReaderAt with one range request per call.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("http: read at %d: negative offset", off)
	}
	if off >= f.size {
		return 0, io.EOF
	}

	want := min(int64(len(p)), f.size-off)
	body, err := f.get(off, off+want-1)
	if err != nil {
		return 0, err
	}
	defer drain(body)

	n, err := io.ReadFull(body, p[:want])
	if err != nil {
		return n, err
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

// Read implements io.Reader. The content is streamed through a single
// open-ended range request starting at the cursor.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.pos >= f.size {
		return 0, io.EOF
	}
	if f.body == nil {
		body, err := f.get(f.pos, f.size-1)
		if err != nil {
			return 0, err
		}
		f.body = body
	}
	n, err := f.body.Read(p)
	f.pos += int64(n)
	if errors.Is(err, io.EOF) && f.pos < f.size {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

// Close releases the streaming response, if any.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.body == nil {
		return nil
	}
	err := f.body.Close()
	f.body = nil
	return err
}

// get returns the body of a range request for [off, end].
func (f *File) get(off, end int64) (io.ReadCloser, error) {
	resp, err := f.rangeRequest(off, end, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == nethttp.StatusPreconditionFailed && f.hasConditions() {
		drain(resp.Body)
		resp, err = f.rangeRequest(off, end, false)
		if err != nil {
			return nil, err
		}
	}

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		return resp.Body, nil
	case nethttp.StatusRequestedRangeNotSatisfiable:
		drain(resp.Body)
		return nil, io.EOF
	case nethttp.StatusOK:
		drain(resp.Body)
		return nil, ErrRangeUnsupported
	default:
		drain(resp.Body)
		return nil, fmt.Errorf("http: range request failed: %s", resp.Status)
	}
}

// probe learns the size and validators with a one-byte range request.
func (f *File) probe() error {
	req, err := f.newRequest(false)
	if err != nil {
		return err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	case nethttp.StatusRequestedRangeNotSatisfiable:
		// Empty content.
		f.size = 0
		return nil
	default:
		return fmt.Errorf("http: range probe failed: %s", resp.Status)
	}

	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	f.size = size
	f.etag = resp.Header.Get("ETag")
	f.lastModified = resp.Header.Get("Last-Modified")
	return nil
}

func (f *File) newRequest(withConditions bool) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(f.ctx, nethttp.MethodGet, f.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if withConditions && f.conditional {
		if f.etag != "" && req.Header.Get("If-Match") == "" {
			req.Header.Set("If-Match", f.etag)
		}
		if f.lastModified != "" && req.Header.Get("If-Unmodified-Since") == "" {
			req.Header.Set("If-Unmodified-Since", f.lastModified)
		}
	}
	return req, nil
}

func (f *File) rangeRequest(off, end int64, withConditions bool) (*nethttp.Response, error) {
	req, err := f.newRequest(withConditions)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	return f.client.Do(req)
}

func (f *File) hasConditions() bool {
	return f.conditional && (f.etag != "" || f.lastModified != "")
}

// drain discards and closes a response body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body) //nolint:errcheck // best-effort drain for connection reuse
	_ = body.Close()
}

// parseContentRange returns the total size from "bytes start-end/size".
func parseContentRange(value string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("http: invalid Content-Range %q", value)
	}
	return size, nil
}

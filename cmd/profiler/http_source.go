package main

import (
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	changesethttp "github.com/meigma/changeset/http"
)

// remote is the HTTP endpoint remote-rewrite reads its source archive from.
type remote struct {
	url    string
	client *nethttp.Client
	link   *link
	stop   func()
}

// openRemote points at cfg.dataURL, or for "local" serves the generated
// archive from a test server under its own file name so the format can still
// be detected from the URL.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func openRemote(cfg config, srcPath string) *remote {
	l := &link{base: baseTransport(), latency: cfg.dataHTTPLatency, bytesPerSecond: cfg.dataHTTPBPS}
	r := &remote{url: cfg.dataURL, client: &nethttp.Client{Transport: l}, link: l, stop: func() {}}
	if cfg.dataURL == "local" {
		server := httptest.NewServer(nethttp.FileServer(nethttp.Dir(filepath.Dir(srcPath))))
		r.url = server.URL + "/" + filepath.Base(srcPath)
		r.stop = server.Close
	}
	return r
}

func (r *remote) option() changesethttp.Option {
	return changesethttp.WithClient(r.client)
}

func baseTransport() nethttp.RoundTripper {
	if base, ok := nethttp.DefaultTransport.(*nethttp.Transport); ok {
		return base.Clone()
	}
	return nethttp.DefaultTransport
}

// link models the network between a rewrite and its remote source. Every
// request waits out the latency; response bodies share one bandwidth budget,
// so a zip source's many small ranges and a tar stream's single long read
// are paced alike.
type link struct {
	base           nethttp.RoundTripper
	latency        time.Duration
	bytesPerSecond int64

	probes atomic.Int64
	ranges atomic.Int64
	body   atomic.Int64

	mu      sync.Mutex
	started time.Time
	paced   int64
}

func (l *link) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	if req.Header.Get("Range") == "bytes=0-0" {
		l.probes.Add(1)
	} else {
		l.ranges.Add(1)
	}
	if l.latency > 0 {
		timer := time.NewTimer(l.latency)
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		}
	}
	resp, err := l.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.Body != nil {
		resp.Body = &linkBody{rc: resp.Body, link: l}
	}
	return resp, nil
}

// pace records n body bytes and blocks until the shared budget allows them.
func (l *link) pace(n int) {
	l.body.Add(int64(n))
	if l.bytesPerSecond <= 0 {
		return
	}
	l.mu.Lock()
	if l.started.IsZero() {
		l.started = time.Now()
	}
	l.paced += int64(n)
	due := l.started.Add(time.Duration(float64(l.paced) / float64(l.bytesPerSecond) * float64(time.Second)))
	l.mu.Unlock()
	if wait := time.Until(due); wait > 0 {
		time.Sleep(wait)
	}
}

func (l *link) String() string {
	return fmt.Sprintf("probes=%d ranges=%d body=%d", l.probes.Load(), l.ranges.Load(), l.body.Load())
}

type linkBody struct {
	rc   io.ReadCloser
	link *link
}

func (b *linkBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.link.pace(n)
	}
	return n, err
}

func (b *linkBody) Close() error {
	return b.rc.Close()
}

var rateUnits = []struct {
	suffix string
	scale  int64
}{
	{"gb", 1 << 30}, {"g", 1 << 30},
	{"mb", 1 << 20}, {"m", 1 << 20},
	{"kb", 1 << 10}, {"k", 1 << 10},
	{"b", 1},
}

// parseBytesPerSecond parses rates such as "512", "64k/s" or "10MBps".
func parseBytesPerSecond(value string) (int64, error) {
	text := strings.ToLower(strings.TrimSpace(value))
	text = strings.TrimSuffix(text, "/s")
	text = strings.TrimSuffix(text, "ps")
	scale := int64(1)
	for _, u := range rateUnits {
		if rest, ok := strings.CutSuffix(text, u.suffix); ok {
			text, scale = rest, u.scale
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid bytes-per-second %q", value)
	}
	return n * scale, nil
}

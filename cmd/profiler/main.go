// Command profiler measures change set rewrites over synthetic archives and
// writes CPU, heap, trace and wall-clock profiles.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"
	"time"

	"github.com/felixge/fgprof"

	"github.com/meigma/changeset"
	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/format"
)

type config struct {
	mode            string
	format          string
	files           int
	fileSize        int
	dirCount        int
	pattern         string
	deleteEvery     int
	replaceEvery    int
	add             int
	digests         bool
	dataURL         string
	dataHTTPLatency time.Duration
	dataHTTPBPS     int64
	fgProfile       string
	duration        time.Duration
	iterations      int
	pprofAddr       string
	cpuProfile      string
	memProfile      string
	traceFile       string
	tempDir         string
	keepTemp        bool
	verbose         bool
	randomSeed      int64
}

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	f, err := format.Parse(cfg.format)
	if err != nil {
		log.Fatal(err)
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	members, err := makeMembers(cfg.files, cfg.fileSize, cfg.dirCount, cfg.pattern, cfg.randomSeed)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}
	srcPath := filepath.Join(dir, "source."+f.String())
	if err := writeArchive(f, srcPath, members); err != nil {
		log.Fatal(err)
	}

	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr)
		}
		stopFG := fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, f, srcPath, members)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		mf, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(mf); err != nil {
			log.Fatal(err)
		}
		_ = mf.Close()
	}

	fmt.Printf("mode=%s format=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s last=%q\n",
		cfg.mode,
		f,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
		stats.last.String(),
	)
	if stats.network != nil {
		fmt.Printf("http %s\n", stats.network)
	}
}

type member struct {
	name    string
	content []byte
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
	last    changeset.Result
	network *link
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func runProfile(cfg config, f format.Format, srcPath string, members []member) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64
	var last changeset.Result
	var network *link

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}

	var performOpts []changeset.PerformOption
	if cfg.digests {
		performOpts = append(performOpts, changeset.WithDigests(true))
	}
	if cfg.verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		performOpts = append(performOpts, changeset.WithLogger(logger))
	}

	ctx := context.Background()
	dstPath := filepath.Join(filepath.Dir(srcPath), "out."+f.String())

	switch cfg.mode {
	case "rewrite":
		for shouldContinue() {
			res, err := format.Rewrite(ctx, srcPath, dstPath, buildChangeSet(cfg, members),
				format.WithFormat(f), format.WithPerformOptions(performOpts...))
			if err != nil {
				return profileStats{}, err
			}
			last = res
			byteCount += int64(res.BytesWritten) //nolint:gosec // profiler byte counts stay far below MaxInt64
			ops++
		}

	case "remote-rewrite":
		rem := openRemote(cfg, srcPath)
		defer rem.stop()
		network = rem.link
		for shouldContinue() {
			res, err := format.Rewrite(ctx, rem.url, dstPath, buildChangeSet(cfg, members),
				format.WithFormat(f),
				format.WithPerformOptions(performOpts...),
				format.WithHTTPOptions(rem.option()))
			if err != nil {
				return profileStats{}, err
			}
			last = res
			byteCount += int64(res.BytesWritten) //nolint:gosec // profiler byte counts stay far below MaxInt64
			ops++
		}

	case "memory":
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return profileStats{}, err
		}
		performer := changeset.NewPerformer(performOpts...)
		for shouldContinue() {
			src, err := format.NewSource(f, bytes.NewReader(data), int64(len(data)))
			if err != nil {
				return profileStats{}, err
			}
			dst, err := format.NewSink(f, io.Discard)
			if err != nil {
				_ = src.Close()
				return profileStats{}, err
			}
			res, err := performer.Perform(ctx, src, dst, buildChangeSet(cfg, members))
			if err != nil {
				return profileStats{}, err
			}
			last = res
			byteCount += int64(res.BytesWritten) //nolint:gosec // profiler byte counts stay far below MaxInt64
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
		last:    last,
		network: network,
	}, nil
}

// buildChangeSet deletes every deleteEvery-th member, replaces every
// replaceEvery-th member and appends add new members.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildChangeSet(cfg config, members []member) *changeset.ChangeSet {
	cs := changeset.New()
	for i, m := range members {
		switch {
		case cfg.deleteEvery > 0 && i%cfg.deleteEvery == 0:
			cs.Delete(m.name)
		case cfg.replaceEvery > 0 && i%cfg.replaceEvery == 0:
			content := bytes.ToUpper(m.content)
			_ = cs.AddFunc(archive.NewSizedFile(m.name, int64(len(content))), opener(content))
		}
	}
	for i := range cfg.add {
		content := bytes.Repeat([]byte{'+'}, cfg.fileSize)
		_ = cs.AddFunc(archive.NewSizedFile(fmt.Sprintf("added/file%05d.dat", i), int64(len(content))), opener(content))
	}
	return cs
}

func opener(content []byte) changeset.Opener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(content)), nil
	}
}

func parseFlags() config {
	var cfg config
	var dataHTTPBPS string
	flag.StringVar(&cfg.mode, "mode", "rewrite", "mode: rewrite, remote-rewrite, memory")
	flag.StringVar(&cfg.format, "format", "tar", "archive format: tar, tar.gz, tar.zst, zip, jar, ar")
	flag.IntVar(&cfg.files, "files", 512, "number of files")
	flag.IntVar(&cfg.fileSize, "file-size", 16<<10, "file size in bytes")
	flag.IntVar(&cfg.dirCount, "dir-count", 16, "number of directories")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.IntVar(&cfg.deleteEvery, "delete-every", 10, "delete every n-th file (0 disables)")
	flag.IntVar(&cfg.replaceEvery, "replace-every", 7, "replace every n-th file (0 disables)")
	flag.IntVar(&cfg.add, "add", 16, "number of files to append")
	flag.BoolVar(&cfg.digests, "digests", false, "compute a digest of every written entry")
	flag.DurationVar(&cfg.dataHTTPLatency, "data-http-latency", 0, "per-request latency for remote-rewrite")
	flag.StringVar(&dataHTTPBPS, "data-http-bps", "", "bytes/sec throttle for remote-rewrite (e.g. 10MBps)")
	flag.StringVar(&cfg.dataURL, "data-url", "local", "source URL for remote-rewrite (\"local\" serves the generated archive)")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory to use for archives")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.BoolVar(&cfg.verbose, "v", false, "log every entry decision to stderr")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	if dataHTTPBPS != "" {
		bps, err := parseBytesPerSecond(dataHTTPBPS)
		if err != nil {
			log.Fatalf("data-http-bps: %v", err)
		}
		cfg.dataHTTPBPS = bps
	}
	return cfg
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "changeset-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

func makeMembers(fileCount, fileSize, dirCount int, pattern string, seed int64) ([]member, error) {
	if dirCount <= 0 {
		dirCount = 1
	}
	members := make([]member, 0, fileCount)
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // intentional use for reproducible benchmarks
	for i := range fileCount {
		content := make([]byte, fileSize)
		switch pattern {
		case "random":
			if _, err := rng.Read(content); err != nil {
				return nil, err
			}
		default:
			fillByte := byte('a' + (i % 26))
			for j := range content {
				content[j] = fillByte
			}
			if len(content) > 0 {
				content[0] = byte(i)
			}
		}
		members = append(members, member{
			name:    fmt.Sprintf("dir%02d/file%05d.dat", i%dirCount, i),
			content: content,
		})
	}
	return members, nil
}

// writeArchive writes members to path, with directory markers where the
// format supports them.
func writeArchive(f format.Format, path string, members []member) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	sink, err := format.NewSink(f, out)
	if err != nil {
		_ = out.Close()
		return err
	}
	src := &memberSource{members: members, dirs: f != format.Ar}
	_, err = changeset.Perform(context.Background(), nil, src, sink)
	return err
}

// memberSource serves generated members as an archive source.
type memberSource struct {
	members []member
	dirs    bool
	pos     int
	seen    map[string]bool
	pending *member
}

func (s *memberSource) Next() (archive.Entry, io.Reader, error) {
	if s.pending != nil {
		m := s.pending
		s.pending = nil
		return archive.NewSizedFile(m.name, int64(len(m.content))), bytes.NewReader(m.content), nil
	}
	if s.pos >= len(s.members) {
		return nil, nil, io.EOF
	}
	m := &s.members[s.pos]
	s.pos++
	if s.dirs {
		if s.seen == nil {
			s.seen = make(map[string]bool)
		}
		dir, _, _ := strings.Cut(m.name, "/")
		if !s.seen[dir] {
			s.seen[dir] = true
			s.pending = m
			return archive.NewDir(dir), nil, nil
		}
	}
	return archive.NewSizedFile(m.name, int64(len(m.content))), bytes.NewReader(m.content), nil
}

func (s *memberSource) Close() error { return nil }

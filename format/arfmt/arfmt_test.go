package arfmt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/changeset"
	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/testutil"
)

type member struct {
	name    string
	content string
}

var blaAr = []member{
	{"test1.xml", "<test1/>"},
	{"test2.xml", "<test2/>"},
	{"test.txt", "odd"},
}

func buildAr(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	aw := NewWriter(&buf)
	for _, m := range members {
		require.NoError(t, aw.WriteHeader(&Header{
			Name:    m.name,
			ModTime: time.Unix(1_700_000_000, 0),
			UID:     1000,
			GID:     1000,
			Mode:    0o644,
			Size:    int64(len(m.content)),
		}))
		_, err := io.WriteString(aw, m.content)
		require.NoError(t, err)
	}
	require.NoError(t, aw.Close())
	return buf.Bytes()
}

func readAr(t *testing.T, data []byte) ([]Header, map[string]string) {
	t.Helper()
	ar := NewReader(bytes.NewReader(data))
	var headers []Header
	contents := make(map[string]string)
	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(ar)
		require.NoError(t, err)
		headers = append(headers, *hdr)
		contents[hdr.Name] = string(b)
	}
	return headers, contents
}

func headerNames(headers []Header) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = h.Name
	}
	return out
}

func perform(t *testing.T, input []byte, cs *changeset.ChangeSet, opts ...SinkOption) ([]byte, changeset.Result) {
	t.Helper()
	var out bytes.Buffer
	res, err := changeset.Perform(context.Background(), cs, NewSource(bytes.NewReader(input)), NewSink(&out, opts...))
	require.NoError(t, err)
	return out.Bytes(), res
}

func TestDeleteFromAr(t *testing.T) {
	t.Parallel()

	cs := changeset.New()
	cs.Delete("test2.xml")
	out, res := perform(t, buildAr(t, blaAr), cs)

	headers, contents := readAr(t, out)
	assert.Equal(t, []string{"test1.xml", "test.txt"}, headerNames(headers))
	assert.Equal(t, "odd", contents["test.txt"])
	assert.Equal(t, changeset.Result{Unchanged: 2, Deleted: 1, BytesWritten: 11}, res)
}

func TestDeleteFromAndAddToAr(t *testing.T) {
	t.Parallel()

	cs := changeset.New()
	cs.Delete("test2.xml")
	require.NoError(t, cs.Add(archive.NewFile("test.txt"), strings.NewReader("replaced")))
	require.NoError(t, cs.Add(NewEntry("testdata/a-rather-long-member-name.txt"), strings.NewReader("long")))

	out, res := perform(t, buildAr(t, blaAr), cs, SinkWithModTime(time.Unix(7, 0)), SinkWithOwner(5, 6))
	headers, contents := readAr(t, out)

	assert.Equal(t, []string{"test1.xml", "test.txt", "testdata/a-rather-long-member-name.txt"}, headerNames(headers))
	assert.Equal(t, "replaced", contents["test.txt"])
	assert.Equal(t, "long", contents["testdata/a-rather-long-member-name.txt"])
	assert.Equal(t, changeset.Result{Unchanged: 1, Deleted: 1, Replaced: 1, Added: 1, BytesWritten: 20}, res)

	assert.Equal(t, 1000, headers[0].UID, "copied headers keep their owner")
	assert.Equal(t, int64(1_700_000_000), headers[0].ModTime.Unix())
	assert.Equal(t, 5, headers[1].UID)
	assert.Equal(t, 6, headers[1].GID)
	assert.Equal(t, int64(7), headers[1].ModTime.Unix())
	assert.Equal(t, int64(0o644), headers[1].Mode)
}

func TestIdentityIsByteExact(t *testing.T) {
	t.Parallel()

	input := buildAr(t, append(blaAr, member{"name with spaces", "x"}))
	out, res := perform(t, input, changeset.New())
	assert.Equal(t, input, out)
	assert.Equal(t, 4, res.Unchanged)
}

func TestSinkRejectsDirectories(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	src := testutil.NewMockSource(testutil.File("a.o", "a"), testutil.Dir("dir/"))
	_, err := changeset.Perform(context.Background(), changeset.New(), src, NewSink(&out))
	require.ErrorIs(t, err, ErrDirectory)
	require.ErrorIs(t, err, changeset.ErrSinkWrite)
}

func TestSinkSpoolsUnknownSizes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var out bytes.Buffer
	src := testutil.NewMockSource(testutil.File("one.o", "first"), testutil.File("two.o", ""))
	_, err := changeset.Perform(context.Background(), changeset.New(), src, NewSink(&out, SinkWithSpoolDir(dir)))
	require.NoError(t, err)

	headers, contents := readAr(t, out.Bytes())
	assert.Equal(t, []string{"one.o", "two.o"}, headerNames(headers))
	assert.Equal(t, "first", contents["one.o"])
	assert.Equal(t, int64(0), headers[1].Size)
}

func TestSinkSizeMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int64
		content string
		want    error
	}{
		{name: "short", size: 10, content: "abc", want: ErrShortWrite},
		{name: "long", size: 2, content: "abc", want: ErrWriteTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sink := NewSink(io.Discard)
			err := sink.Write(archive.NewSizedFile("x", tc.size), strings.NewReader(tc.content))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSinkUseAfterFinish(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	sink := NewSink(&out)
	require.NoError(t, sink.Finish())
	assert.Equal(t, Magic, out.String())
	require.ErrorIs(t, sink.Write(NewEntry("late"), strings.NewReader("")), ErrFinished)
	require.ErrorIs(t, sink.Finish(), ErrFinished)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
}

func rawHeader(name string, size int) string {
	return fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10d`\n", name, 0, 0, 0, 0o644, size)
}

func TestReaderGNUDialect(t *testing.T) {
	t.Parallel()

	table := "a-very-long-object-name.o/\n"
	var b strings.Builder
	b.WriteString(Magic)
	b.WriteString(rawHeader("/", 4))
	b.WriteString("\x00\x00\x00\x00")
	b.WriteString(rawHeader("//", len(table)))
	b.WriteString(table)
	b.WriteString("\n")
	b.WriteString(rawHeader("short.o/", 3))
	b.WriteString("abc\n")
	b.WriteString(rawHeader("/0", 2))
	b.WriteString("xy")

	headers, contents := readAr(t, []byte(b.String()))
	assert.Equal(t, []string{"/", "short.o", "a-very-long-object-name.o"}, headerNames(headers))
	assert.Equal(t, "abc", contents["short.o"])
	assert.Equal(t, "xy", contents["a-very-long-object-name.o"])
}

func TestReaderBSDDialect(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(Magic)
	b.WriteString(rawHeader("#1/20", 20+5))
	b.WriteString("__.SYMDEF SORTED\x00\x00\x00\x00")
	b.WriteString("hello\n")

	headers, contents := readAr(t, []byte(b.String()))
	require.Len(t, headers, 1)
	assert.Equal(t, "__.SYMDEF SORTED", headers[0].Name)
	assert.Equal(t, int64(5), headers[0].Size)
	assert.Equal(t, "hello", contents["__.SYMDEF SORTED"])
}

func TestReaderSkipsUnreadContent(t *testing.T) {
	t.Parallel()

	ar := NewReader(bytes.NewReader(buildAr(t, blaAr)))
	var names []string
	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"test1.xml", "test2.xml", "test.txt"}, names)
}

func TestReaderMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "bad magic", input: "!<arch>X"},
		{name: "short magic", input: "!<ar"},
		{name: "truncated header", input: Magic + "short"},
		{name: "bad terminator", input: Magic + strings.Repeat(" ", headerSize)},
		{name: "bad size", input: Magic + fmt.Sprintf("%-16s%-12d%-6d%-6d%-8o%-10s`\n", "x", 0, 0, 0, 0, "abc")},
		{name: "truncated content", input: Magic + rawHeader("x", 10) + "abc"},
		{name: "gnu name without table", input: Magic + rawHeader("/5", 0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ar := NewReader(strings.NewReader(tc.input))
			var err error
			for err == nil {
				_, err = ar.Next()
				if err == nil {
					_, err = io.ReadAll(ar)
				}
			}
			require.NotErrorIs(t, err, io.EOF)
		})
	}
}

func TestWriterValidation(t *testing.T) {
	t.Parallel()

	aw := NewWriter(io.Discard)
	require.ErrorIs(t, aw.WriteHeader(&Header{Name: ""}), ErrInvalidName)
	require.ErrorIs(t, aw.WriteHeader(&Header{Name: "a\nb"}), ErrInvalidName)
	require.ErrorIs(t, aw.WriteHeader(&Header{Name: "big", Size: 1 << 40}), ErrFieldOverflow)
	require.ErrorIs(t, aw.WriteHeader(&Header{Name: "uid", UID: 10_000_000}), ErrFieldOverflow)

	require.NoError(t, aw.WriteHeader(&Header{Name: "x", Size: 2}))
	n, err := aw.Write([]byte("abc"))
	assert.Equal(t, 2, n)
	require.ErrorIs(t, err, ErrWriteTooLong)

	require.NoError(t, aw.WriteHeader(&Header{Name: "y", Size: 2}))
	_, err = aw.Write([]byte("a"))
	require.NoError(t, err)
	require.ErrorIs(t, aw.Close(), ErrShortWrite)
}

func TestWriterZeroModTime(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	aw := NewWriter(&buf)
	require.NoError(t, aw.WriteHeader(&Header{Name: "z", Size: 1}))
	_, err := aw.Write([]byte("z"))
	require.NoError(t, err)
	require.NoError(t, aw.Close())

	assert.Equal(t, "0           ", buf.String()[len(Magic)+16:len(Magic)+28])

	hdr, err := NewReader(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), hdr.ModTime.Unix())
}

func TestSourceClose(t *testing.T) {
	t.Parallel()

	rc := &closeRecorder{Reader: bytes.NewReader(buildAr(t, blaAr))}
	src := NewSource(rc)
	e, _, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, "test1.xml", e.Name())
	assert.False(t, e.IsDir())

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.Equal(t, 1, rc.closed)
	_, _, err = src.Next()
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

type closeRecorder struct {
	io.Reader
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

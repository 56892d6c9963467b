package changeset

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/testutil"
)

func sampleItems() []testutil.Item {
	return []testutil.Item{
		testutil.File("test1.xml", "<one/>"),
		testutil.File("test2.xml", "<two/>"),
		testutil.Dir("something/"),
		testutil.File("something/bla", "bla bla"),
		testutil.File("test.txt", "plain text"),
	}
}

func perform(t *testing.T, cs *ChangeSet, items []testutil.Item, opts ...PerformOption) (*testutil.MockSink, Result) {
	t.Helper()
	src := testutil.NewMockSource(items...)
	dst := testutil.NewMockSink()
	res, err := Perform(context.Background(), cs, src, dst, opts...)
	require.NoError(t, err)
	assertReleased(t, src, dst, true)
	return dst, res
}

func assertReleased(t *testing.T, src *testutil.MockSource, dst *testutil.MockSink, finished bool) {
	t.Helper()
	assert.Equal(t, 1, src.CloseCalls, "source closed exactly once")
	assert.Equal(t, 1, dst.CloseCalls, "sink closed exactly once")
	if finished {
		assert.Equal(t, 1, dst.FinishCalls, "sink finished exactly once")
	} else {
		assert.Zero(t, dst.FinishCalls, "sink must not be finished after a failure")
	}
}

func names(items []testutil.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestPerform_EmptyChangeSetIsIdentity(t *testing.T) {
	t.Parallel()

	items := sampleItems()
	dst, res := perform(t, New(), items)

	assert.Equal(t, items, dst.Items)
	assert.Equal(t, Result{Unchanged: len(items), BytesWritten: 6 + 6 + 7 + 10}, res)
}

func TestPerform_NilChangeSetIsIdentity(t *testing.T) {
	t.Parallel()

	items := sampleItems()
	dst, res := perform(t, nil, items)
	assert.Equal(t, items, dst.Items)
	assert.Equal(t, len(items), res.Unchanged)
}

func TestPerform_DeleteRemovesExactlyTheMatch(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.File("a", "A"),
		testutil.File("b", "B"),
		testutil.File("c", "C"),
	}
	cs := New()
	cs.Delete("b")

	dst, res := perform(t, cs, items)
	assert.Equal(t, []testutil.Item{items[0], items[2]}, dst.Items)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 2, res.Unchanged)
}

func TestPerform_DeleteMatchesPrefixedNames(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.Dir("./"),
		testutil.File("./test1.xml", "<one/>"),
		testutil.File("./test2.xml", "<two/>"),
		testutil.File("/abs", "abs"),
		testutil.Dir("./dir/"),
		testutil.File("./dir/x", "x"),
	}
	cs := New()
	cs.Delete("./test2.xml")
	cs.Delete("/abs")
	cs.DeleteDir("./dir/")

	dst, res := perform(t, cs, items)
	assert.Equal(t, []string{"./", "./test1.xml"}, dst.Names())
	assert.Equal(t, 4, res.Deleted)
	assert.Equal(t, 2, res.Unchanged)
}

func TestPerform_ReplaceMatchesPrefixedNames(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.File("./a", "A"),
		testutil.File("./b", "B"),
	}
	cs := New()
	require.NoError(t, cs.Add(archive.NewFile("b"), strings.NewReader("B'")))

	dst, res := perform(t, cs, items)
	assert.Equal(t, []string{"./a", "b"}, dst.Names())
	assert.Equal(t, "B'", string(dst.Content("b")))
	assert.Equal(t, 1, res.Replaced)
	assert.Zero(t, res.Added)
}

func TestPerform_DeleteAbsentNameIsNoop(t *testing.T) {
	t.Parallel()

	items := sampleItems()
	cs := New()
	cs.Delete("missing.xml")

	dst, res := perform(t, cs, items)
	assert.Equal(t, items, dst.Items)
	assert.Zero(t, res.Deleted)
}

func TestPerform_DirectoryPrefixDeletion(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.File("dir/x", "x"),
		testutil.File("dir/y", "y"),
		testutil.File("dirt/keep", "k"),
		testutil.File("z", "z"),
	}
	cs := New()
	cs.Delete("dir/")

	dst, res := perform(t, cs, items)
	assert.Equal(t, []string{"dirt/keep", "z"}, dst.Names())
	assert.Equal(t, 2, res.Deleted)
}

func TestPerform_ExactDeletionOfDirectoryEntryRemovesChildren(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.Dir("dir/"),
		testutil.File("dir/x", "x"),
		testutil.File("dir/sub/y", "y"),
		testutil.File("z", "z"),
	}
	cs := New()
	cs.Delete("dir")

	dst, res := perform(t, cs, items)
	assert.Equal(t, []string{"z"}, dst.Names())
	assert.Equal(t, 3, res.Deleted)
}

func TestPerform_AdditionAppendsWithoutCollision(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{testutil.File("a", "A")}
	cs := New()
	require.NoError(t, cs.Add(archive.NewFile("b"), strings.NewReader("new content")))

	dst, res := perform(t, cs, items)
	assert.Equal(t, []string{"a", "b"}, dst.Names())
	assert.Equal(t, "new content", string(dst.Content("b")))
	assert.Equal(t, Result{Unchanged: 1, Added: 1, BytesWritten: 1 + 11}, res)
}

func TestPerform_ReplacementPreservesPosition(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.File("a", "A"),
		testutil.File("b", "B"),
		testutil.File("c", "C"),
	}
	cs := New()
	require.NoError(t, cs.Add(archive.NewFile("b"), strings.NewReader("B'")))

	dst, res := perform(t, cs, items)
	assert.Equal(t, []string{"a", "b", "c"}, dst.Names())
	assert.Equal(t, "B'", string(dst.Content("b")))
	assert.Equal(t, 1, res.Replaced)
	assert.Zero(t, res.Added)
	assert.Equal(t, 2, res.Unchanged)
}

func TestPerform_AppendModeKeepsOriginal(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{testutil.File("a", "A")}
	cs := New()
	require.NoError(t, cs.Add(archive.NewFile("a"), strings.NewReader("A2"), AddWithReplace(false)))

	dst, res := perform(t, cs, items)
	require.Len(t, dst.Items, 2)
	assert.Equal(t, "A", string(dst.Items[0].Content))
	assert.Equal(t, "A2", string(dst.Items[1].Content))
	assert.Equal(t, Result{Unchanged: 1, Added: 1, BytesWritten: 3}, res)
}

func TestPerform_DeletionWinsOverReplacement(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.File("a", "A"),
		testutil.File("b", "B"),
		testutil.File("c", "C"),
	}
	// Recording order must not matter.
	for _, deleteFirst := range []bool{true, false} {
		cs := New()
		if deleteFirst {
			cs.Delete("b")
		}
		require.NoError(t, cs.Add(archive.NewFile("b"), strings.NewReader("B'")))
		if !deleteFirst {
			cs.Delete("b")
		}

		dst, res := perform(t, cs, items)
		assert.Equal(t, []string{"a", "c", "b"}, dst.Names())
		assert.Equal(t, "B'", string(dst.Content("b")))
		assert.Equal(t, Result{Unchanged: 2, Deleted: 1, Added: 1, BytesWritten: 4}, res)
	}
}

func TestPerform_FirstRecordedReplacementWins(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.File("a", "A"),
		testutil.File("b", "B"),
		testutil.File("c", "C"),
	}
	cs := New()
	require.NoError(t, cs.Add(archive.NewFile("b"), strings.NewReader("first")))
	require.NoError(t, cs.Add(archive.NewFile("b"), strings.NewReader("second")))

	dst, res := perform(t, cs, items)
	require.Equal(t, []string{"a", "b", "c", "b"}, dst.Names())
	assert.Equal(t, "first", string(dst.Items[1].Content))
	assert.Equal(t, "second", string(dst.Items[3].Content))
	assert.Equal(t, 1, res.Replaced)
	assert.Equal(t, 1, res.Added)
}

func TestPerform_UnmatchedAdditionsKeepRecordingOrder(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{testutil.File("b", "B")}
	cs := New()
	require.NoError(t, cs.Add(archive.NewFile("z"), strings.NewReader("z")))
	require.NoError(t, cs.Add(archive.NewFile("b"), strings.NewReader("b2")))
	require.NoError(t, cs.Add(archive.NewFile("a"), strings.NewReader("a")))
	require.NoError(t, cs.Add(archive.NewFile("m"), strings.NewReader("m"), AddWithReplace(false)))

	dst, res := perform(t, cs, items)
	assert.Equal(t, []string{"b", "z", "a", "m"}, dst.Names())
	assert.Equal(t, "b2", string(dst.Content("b")))
	assert.Equal(t, Result{Replaced: 1, Added: 3, BytesWritten: 5}, res)
}

func TestPerform_DeleteOnlyScenario(t *testing.T) {
	t.Parallel()

	items := sampleItems()
	cs := New()
	cs.Delete("test2.xml")

	dst, res := perform(t, cs, items)
	assert.Equal(t, []string{"test1.xml", "something/", "something/bla", "test.txt"}, dst.Names())
	assert.Equal(t, 1, res.Deleted)
}

func TestPerform_DeleteAndAddScenario(t *testing.T) {
	t.Parallel()

	input := bytes.Repeat([]byte("line of test data\n"), 64)
	items := sampleItems()
	cs := New()
	cs.Delete("test2.xml")
	require.NoError(t, cs.Add(archive.NewSizedFile("testdata/test.txt", int64(len(input))), bytes.NewReader(input)))

	dst, res := perform(t, cs, items)
	assert.Equal(t,
		[]string{"test1.xml", "something/", "something/bla", "test.txt", "testdata/test.txt"},
		dst.Names())
	assert.Equal(t, input, dst.Content("testdata/test.txt"))
	assert.Equal(t, Result{Unchanged: 4, Deleted: 1, Added: 1, BytesWritten: uint64(6 + 7 + 10 + len(input))}, res)
}

func TestPerform_ClosesAdditionContent(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTrackingReader("content")
	cs := New()
	require.NoError(t, cs.Add(archive.NewFile("new"), tr))

	perform(t, cs, nil)
	assert.True(t, tr.EOF)
	assert.Equal(t, 1, tr.Closed)
}

func TestPerform_ReusableChangeSet(t *testing.T) {
	t.Parallel()

	cs := New()
	cs.Delete("a")
	require.NoError(t, cs.AddFunc(archive.NewFile("b"), func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("fresh")), nil
	}))
	items := []testutil.Item{testutil.File("a", "A"), testutil.File("b", "B")}

	first, res1 := perform(t, cs, items)
	second, res2 := perform(t, cs, items)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, res1, res2)
	assert.Equal(t, Result{Deleted: 1, Replaced: 1, BytesWritten: 5}, res1)
}

func TestPerform_SingleUseContentFailsOnSecondPass(t *testing.T) {
	t.Parallel()

	cs := New()
	require.NoError(t, cs.Add(archive.NewFile("b"), strings.NewReader("once")))
	perform(t, cs, nil)

	src := testutil.NewMockSource()
	dst := testutil.NewMockSink()
	_, err := Perform(context.Background(), cs, src, dst)
	require.ErrorIs(t, err, ErrContentRead)
	require.ErrorIs(t, err, ErrContentConsumed)
	assertReleased(t, src, dst, false)
}

func TestPerform_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	items := func() []testutil.Item {
		return []testutil.Item{
			testutil.File("a", "AAAA"),
			testutil.File("b", "BBBB"),
			testutil.File("c", "CCCC"),
		}
	}

	tests := []struct {
		name     string
		setup    func(src *testutil.MockSource, dst *testutil.MockSink, cs *ChangeSet)
		want     error
		notWant  error
		finished bool
	}{
		{
			name: "next fails",
			setup: func(src *testutil.MockSource, _ *testutil.MockSink, _ *ChangeSet) {
				src.NextErr, src.FailAt = boom, 1
			},
			want:    ErrSourceRead,
			notWant: ErrSinkWrite,
		},
		{
			name: "pass-through content fails",
			setup: func(src *testutil.MockSource, _ *testutil.MockSink, _ *ChangeSet) {
				src.ContentErr["b"] = boom
			},
			want:    ErrSourceRead,
			notWant: ErrSinkWrite,
		},
		{
			name: "deleted content fails to drain",
			setup: func(src *testutil.MockSource, _ *testutil.MockSink, cs *ChangeSet) {
				src.ContentErr["b"] = boom
				cs.Delete("b")
			},
			want: ErrContentRead,
		},
		{
			name: "replaced content fails to drain",
			setup: func(src *testutil.MockSource, _ *testutil.MockSink, cs *ChangeSet) {
				src.ContentErr["b"] = boom
				_ = cs.Add(archive.NewFile("b"), strings.NewReader("new"))
			},
			want: ErrContentRead,
		},
		{
			name: "addition content fails",
			setup: func(_ *testutil.MockSource, _ *testutil.MockSink, cs *ChangeSet) {
				tr := testutil.NewTrackingReader("x")
				tr.ReadErr = boom
				_ = cs.Add(archive.NewFile("new"), tr)
			},
			want:    ErrContentRead,
			notWant: ErrSinkWrite,
		},
		{
			name: "addition opener fails",
			setup: func(_ *testutil.MockSource, _ *testutil.MockSink, cs *ChangeSet) {
				_ = cs.AddFunc(archive.NewFile("new"), func() (io.ReadCloser, error) { return nil, boom })
			},
			want: ErrContentRead,
		},
		{
			name: "sink write fails",
			setup: func(_ *testutil.MockSource, dst *testutil.MockSink, _ *ChangeSet) {
				dst.WriteErr["b"] = boom
				dst.ReadBeforeFail = 2
			},
			want:    ErrSinkWrite,
			notWant: ErrSourceRead,
		},
		{
			name: "finish fails",
			setup: func(_ *testutil.MockSource, dst *testutil.MockSink, _ *ChangeSet) {
				dst.FinishErr = boom
			},
			want:     ErrSinkWrite,
			finished: true,
		},
		{
			name: "sink close fails after success",
			setup: func(_ *testutil.MockSource, dst *testutil.MockSink, _ *ChangeSet) {
				dst.CloseErr = boom
			},
			want:     ErrSinkWrite,
			finished: true,
		},
		{
			name: "source close fails after success",
			setup: func(src *testutil.MockSource, _ *testutil.MockSink, _ *ChangeSet) {
				src.CloseErr = boom
			},
			want:     ErrSourceRead,
			finished: true,
		},
		{
			name: "first error wins over close errors",
			setup: func(src *testutil.MockSource, dst *testutil.MockSink, _ *ChangeSet) {
				src.NextErr, src.FailAt = boom, 0
				dst.CloseErr = errors.New("close failed")
			},
			want:    ErrSourceRead,
			notWant: ErrSinkWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := testutil.NewMockSource(items()...)
			dst := testutil.NewMockSink()
			cs := New()
			tt.setup(src, dst, cs)

			res, err := Perform(context.Background(), cs, src, dst)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, boom)
			if tt.notWant != nil {
				assert.NotErrorIs(t, err, tt.notWant)
			}
			assert.Equal(t, Result{}, res, "no partial result on failure")
			assertReleased(t, src, dst, tt.finished)
		})
	}
}

func TestPerform_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := testutil.NewMockSource(sampleItems()...)
	dst := testutil.NewMockSink()

	var seen int
	_, err := NewPerformer(WithProgress(func(ProgressEvent) {
		seen++
		if seen == 2 {
			cancel()
		}
	})).Perform(ctx, src, dst, New())

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, src.Served, "no entries read after cancellation")
	assertReleased(t, src, dst, false)
}

func TestPerform_NilSourceOrSink(t *testing.T) {
	t.Parallel()

	src := testutil.NewMockSource()
	_, err := Perform(context.Background(), New(), src, nil)
	require.Error(t, err)
	assert.Equal(t, 1, src.CloseCalls)
}

func TestPerform_ProgressAndDigests(t *testing.T) {
	t.Parallel()

	items := []testutil.Item{
		testutil.File("a", "A"),
		testutil.File("b", "B"),
	}
	cs := New()
	cs.Delete("a")
	require.NoError(t, cs.Add(archive.NewFile("c"), strings.NewReader("C content")))

	var events []ProgressEvent
	perform(t, cs, items, WithDigests(true), WithProgress(func(ev ProgressEvent) {
		events = append(events, ev)
	}))

	require.Len(t, events, 3)
	assert.Equal(t, ProgressEvent{Action: ActionDelete, Name: "a", Bytes: 1, EntriesDone: 1}, events[0])
	assert.Equal(t, ProgressEvent{Action: ActionKeep, Name: "b", Bytes: 1, Digest: digest.FromString("B"), EntriesDone: 2}, events[1])
	assert.Equal(t, ProgressEvent{Action: ActionAdd, Name: "c", Bytes: 9, Digest: digest.FromString("C content"), EntriesDone: 3}, events[2])
}

func TestPerform_DigestsDisabledByDefault(t *testing.T) {
	t.Parallel()

	var got []digest.Digest
	perform(t, New(), []testutil.Item{testutil.File("a", "A")}, WithProgress(func(ev ProgressEvent) {
		got = append(got, ev.Digest)
	}))
	assert.Equal(t, []digest.Digest{""}, got)
}

func TestPerform_DigestAlgorithm(t *testing.T) {
	t.Parallel()

	var got digest.Digest
	perform(t, New(), []testutil.Item{testutil.File("a", "A")},
		WithDigestAlgorithm(digest.SHA512),
		WithProgress(func(ev ProgressEvent) { got = ev.Digest }))
	assert.Equal(t, digest.SHA512.FromString("A"), got)
}

func TestPerform_Logging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cs := New()
	cs.Delete("test2.xml")
	perform(t, cs, sampleItems(), WithLogger(logger))

	out := buf.String()
	assert.Contains(t, out, "performing change set")
	assert.Contains(t, out, "action=delete name=test2.xml")
	assert.Contains(t, out, "change set performed")
}

func TestResult_Summary(t *testing.T) {
	r := Result{Unchanged: 3, Deleted: 1, Replaced: 2, Added: 4, BytesWritten: 10}
	assert.Equal(t, 9, r.Total())
	assert.Equal(t, "3 unchanged, 1 deleted, 2 replaced, 4 added (10 bytes)", r.String())
	assert.Equal(t, "replace", ActionReplace.String())
}

func TestPerform_IdentityOverManyShapes(t *testing.T) {
	t.Parallel()

	shapes := [][]testutil.Item{
		nil,
		{testutil.File("only", "")},
		{testutil.Dir("d/"), testutil.Dir("d/e/"), testutil.File("d/e/f", "f")},
		{testutil.File("dup", "1"), testutil.File("dup", "2")},
		{testutil.File("big", strings.Repeat("x", 1<<20))},
	}
	for _, items := range shapes {
		dst, res := perform(t, New(), items)
		assert.Equal(t, names(items), dst.Names())
		for i := range items {
			assert.Equal(t, items[i].Content, dst.Items[i].Content)
		}
		assert.Equal(t, len(items), res.Unchanged)
	}
}

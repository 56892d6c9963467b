package changeset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/changeset/archive"
	"github.com/meigma/changeset/internal/iox"
	"github.com/meigma/changeset/internal/pathutil"
)

// Performer applies a ChangeSet while copying a source archive to a sink.
//
// Perform makes a single forward pass over the source. Each source entry is
// deleted, replaced in place by a matching addition, or copied through, and
// its content is fully handled before the next entry is read, so at most one
// entry's content is in flight at a time. Additions that did not replace a
// source entry are appended afterwards in the order they were recorded.
//
// Conflicts are resolved as follows:
//   - A deletion takes precedence over a replacing addition for the same
//     name. The addition is then appended at the end like any other
//     unmatched addition.
//   - When several replacing additions share a name, the first recorded one
//     replaces the source entry; the rest are appended.
//   - An exact-name deletion that matches a directory entry also removes
//     the entries that follow it beneath that directory.
//
// A Performer holds only configuration and may be shared between
// goroutines; each Perform call keeps its own state.
type Performer struct {
	cfg performConfig
}

// NewPerformer creates a Performer with the given options.
func NewPerformer(opts ...PerformOption) *Performer {
	p := &Performer{}
	for _, opt := range opts {
		opt(&p.cfg)
	}
	return p
}

// Perform applies cs to src, writing the result to dst, using a Performer
// configured with opts.
func Perform(ctx context.Context, cs *ChangeSet, src archive.Source, dst archive.Sink, opts ...PerformOption) (Result, error) {
	return NewPerformer(opts...).Perform(ctx, src, dst, cs)
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Performer) log() *slog.Logger {
	if p.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.cfg.logger
}

// Perform merges cs into the entries of src and writes them to dst.
//
// On success dst is finished, then both dst and src are closed. On any error
// the pass stops, dst is closed without being finished, src is closed, and
// the first error is returned; the destination must then be treated as
// incomplete. Source and sink are closed exactly once on every path.
//
// The context is checked between entries. Cancellation aborts the pass the
// same way as any other error. A nil ChangeSet is treated as empty.
func (p *Performer) Perform(ctx context.Context, src archive.Source, dst archive.Sink, cs *ChangeSet) (Result, error) {
	if src == nil || dst == nil {
		if src != nil {
			_ = src.Close()
		}
		if dst != nil {
			_ = dst.Close()
		}
		return Result{}, errors.New("changeset: nil source or sink")
	}
	if cs == nil {
		cs = New()
	}

	ps := newPass(p, cs, dst)
	p.log().Info("performing change set",
		"deletions", len(ps.deletions), "additions", len(ps.additions))

	err := ps.run(ctx, src)
	err = ps.release(src, dst, err)
	if err != nil {
		p.log().Warn("change set aborted", "error", err, "entries_done", ps.done)
		return Result{}, err
	}

	p.log().Info("change set performed",
		"unchanged", ps.res.Unchanged, "deleted", ps.res.Deleted,
		"replaced", ps.res.Replaced, "added", ps.res.Added,
		"bytes", ps.res.BytesWritten)
	return ps.res, nil
}

// pass holds the state of one Perform call. The ChangeSet itself is only read.
type pass struct {
	p   *Performer
	dst archive.Sink

	deletions []Selector
	additions []Addition

	// replaceable maps an entry name to the indexes of its unconsumed
	// replacing additions, in recording order.
	replaceable map[string][]int
	consumed    []bool

	// dirs holds directory selectors discovered during the pass, when an
	// exact-name deletion hits a directory entry.
	dirs []Selector

	res  Result
	done int
}

func newPass(p *Performer, cs *ChangeSet, dst archive.Sink) *pass {
	ps := &pass{
		p:           p,
		dst:         dst,
		deletions:   cs.deletions(),
		additions:   cs.additions(),
		replaceable: make(map[string][]int),
	}
	ps.consumed = make([]bool, len(ps.additions))
	for i, a := range ps.additions {
		if a.Replace {
			key := pathutil.Clean(a.Name())
			ps.replaceable[key] = append(ps.replaceable[key], i)
		}
	}
	return ps
}

// run copies the source and appends the remaining additions.
func (ps *pass) run(ctx context.Context, src archive.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("changeset: %w", err)
		}
		entry, content, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: next entry: %w", ErrSourceRead, err)
		}
		if entry == nil {
			return fmt.Errorf("%w: source returned a nil entry", ErrSourceRead)
		}
		if err := ps.apply(entry, content); err != nil {
			return err
		}
	}

	for i, a := range ps.additions {
		if ps.consumed[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("changeset: %w", err)
		}
		ps.consumed[i] = true
		n, dgst, err := ps.writeAddition(a)
		if err != nil {
			return err
		}
		ps.res.Added++
		ps.report(ActionAdd, a.Name(), n, dgst)
	}
	return nil
}

// apply handles one source entry.
func (ps *pass) apply(entry archive.Entry, content io.Reader) error {
	name := entry.Name()

	if sel, ok := ps.deletedBy(entry); ok {
		n, err := iox.Drain(content)
		if err != nil {
			return fmt.Errorf("%w: discard %s: %w", ErrContentRead, name, err)
		}
		if entry.IsDir() && !sel.Dir {
			ps.dirs = append(ps.dirs, DirSelector(name))
		}
		ps.res.Deleted++
		ps.report(ActionDelete, name, uint64(n), "") //nolint:gosec // io.Copy never returns a negative count
		return nil
	}

	if idx, ok := ps.takeReplacement(name); ok {
		if _, err := iox.Drain(content); err != nil {
			return fmt.Errorf("%w: discard %s: %w", ErrContentRead, name, err)
		}
		n, dgst, err := ps.writeAddition(ps.additions[idx])
		if err != nil {
			return err
		}
		ps.res.Replaced++
		ps.report(ActionReplace, name, n, dgst)
		return nil
	}

	n, dgst, err := ps.write(entry, content, ErrSourceRead)
	if err != nil {
		return err
	}
	ps.res.Unchanged++
	ps.report(ActionKeep, name, n, dgst)
	return nil
}

// deletedBy returns the selector that deletes entry, if any.
func (ps *pass) deletedBy(entry archive.Entry) (Selector, bool) {
	name := entry.Name()
	for _, sel := range ps.deletions {
		if sel.Matches(name) || (entry.IsDir() && sel.Matches(pathutil.TrimDir(name))) {
			return sel, true
		}
	}
	for _, sel := range ps.dirs {
		if sel.Matches(name) {
			return sel, true
		}
	}
	return Selector{}, false
}

// takeReplacement consumes the first unconsumed replacing addition for name.
// Names are compared in cleaned form, as deletion selectors are.
func (ps *pass) takeReplacement(name string) (int, bool) {
	name = pathutil.Clean(name)
	queue := ps.replaceable[name]
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		if ps.consumed[idx] {
			continue
		}
		ps.consumed[idx] = true
		ps.replaceable[name] = queue
		return idx, true
	}
	delete(ps.replaceable, name)
	return 0, false
}

// writeAddition opens an addition's content and writes it to the sink.
func (ps *pass) writeAddition(a Addition) (uint64, digest.Digest, error) {
	rc, err := a.Open()
	if err != nil {
		return 0, "", fmt.Errorf("%w: open %s: %w", ErrContentRead, a.Name(), err)
	}
	n, dgst, err := ps.write(a.Entry, rc, ErrContentRead)
	closeErr := rc.Close()
	if err != nil {
		return 0, "", err
	}
	if closeErr != nil {
		return 0, "", fmt.Errorf("%w: close %s: %w", ErrContentRead, a.Name(), closeErr)
	}
	return n, dgst, nil
}

// write hands one entry to the sink. Read failures surfacing through the
// sink are reported with readErr instead of ErrSinkWrite.
func (ps *pass) write(entry archive.Entry, content io.Reader, readErr error) (uint64, digest.Digest, error) {
	name := entry.Name()
	if content == nil {
		content = eofReader{}
	}
	tag := &iox.TagReader{R: content}
	counter := &iox.CountingReader{R: tag}

	var digester digest.Digester
	var r io.Reader = counter
	if ps.p.cfg.digestAlg != "" {
		digester = ps.p.cfg.digestAlg.Digester()
		r = iox.Tee(counter, digester.Hash())
	}

	err := ps.dst.Write(entry, r)
	if tag.Err != nil {
		return 0, "", fmt.Errorf("%w: %s: %w", readErr, name, tag.Err)
	}
	if err != nil {
		return 0, "", fmt.Errorf("%w: %s: %w", ErrSinkWrite, name, err)
	}

	ps.res.BytesWritten += counter.N
	var dgst digest.Digest
	if digester != nil {
		dgst = digester.Digest()
	}
	return counter.N, dgst, nil
}

// release finishes dst on success and closes both ends exactly once.
// The first error wins; later ones are logged.
func (ps *pass) release(src archive.Source, dst archive.Sink, err error) error {
	keep := func(next error) {
		if next == nil {
			return
		}
		if err == nil {
			err = next
			return
		}
		ps.p.log().Warn("release after failure", "error", next)
	}

	if err == nil {
		if ferr := dst.Finish(); ferr != nil {
			keep(fmt.Errorf("%w: finish: %w", ErrSinkWrite, ferr))
		}
	}
	if cerr := dst.Close(); cerr != nil {
		keep(fmt.Errorf("%w: close: %w", ErrSinkWrite, cerr))
	}
	if cerr := src.Close(); cerr != nil {
		keep(fmt.Errorf("%w: close: %w", ErrSourceRead, cerr))
	}
	return err
}

// report logs the decision for one entry and forwards it to the progress callback.
func (ps *pass) report(action Action, name string, n uint64, dgst digest.Digest) {
	ps.done++
	ps.p.log().Debug("entry handled", "action", action.String(), "name", name, "bytes", n)
	if ps.p.cfg.progress == nil {
		return
	}
	ps.p.cfg.progress(ProgressEvent{
		Action:      action,
		Name:        name,
		Bytes:       n,
		Digest:      dgst,
		EntriesDone: ps.done,
	})
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

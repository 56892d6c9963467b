package changeset

import (
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/meigma/changeset/archive"
)

// ChangeSet is an ordered collection of edits to apply to an archive.
//
// A ChangeSet only records edits; [Performer] applies them. Recording does
// no I/O, and performing never mutates the ChangeSet, so one ChangeSet may
// drive several sequential Perform calls as long as its addition content
// can be reopened (see [ChangeSet.AddFunc]).
//
// A ChangeSet is not safe for concurrent mutation. The zero value is an
// empty ChangeSet ready to use.
type ChangeSet struct {
	edits   []Edit
	deleted map[Selector]struct{}
}

// New returns an empty ChangeSet.
func New() *ChangeSet {
	return &ChangeSet{}
}

// AddOption configures a recorded addition.
type AddOption func(*addConfig)

type addConfig struct {
	replace bool
}

// AddWithReplace controls whether the addition replaces a source entry with
// the same name in place (the default) or is always appended.
func AddWithReplace(replace bool) AddOption {
	return func(cfg *addConfig) {
		cfg.replace = replace
	}
}

// Delete records the deletion of the entry called name. A trailing slash
// deletes the directory and everything beneath it.
func (c *ChangeSet) Delete(name string) {
	c.RecordDeletion(NameSelector(name))
}

// DeleteDir records the deletion of the directory name and everything beneath it.
func (c *ChangeSet) DeleteDir(name string) {
	c.RecordDeletion(DirSelector(name))
}

// RecordDeletion records a deletion. Recording the same selector again has
// no further effect.
func (c *ChangeSet) RecordDeletion(sel Selector) {
	if _, ok := c.deleted[sel]; ok {
		return
	}
	if c.deleted == nil {
		c.deleted = make(map[Selector]struct{})
	}
	c.deleted[sel] = struct{}{}
	c.edits = append(c.edits, Edit{kind: EditDelete, selector: sel})
}

// Add records an addition whose content is read from r at perform time.
//
// r is consumed once; if it implements io.Closer it is closed after the
// content is written. By default the addition replaces a source entry with
// the same name in place; use AddWithReplace(false) to always append.
func (c *ChangeSet) Add(entry archive.Entry, r io.Reader, opts ...AddOption) error {
	if r == nil {
		return fmt.Errorf("%w: nil content for %s", ErrInvalidEdit, entryName(entry))
	}
	return c.AddFunc(entry, onceOpener(r), opts...)
}

// RecordAddition records an addition with an explicit replace flag.
func (c *ChangeSet) RecordAddition(entry archive.Entry, r io.Reader, replace bool) error {
	return c.Add(entry, r, AddWithReplace(replace))
}

// AddFunc records an addition whose content is produced by open at perform
// time. open is called once per Perform call that writes the addition.
func (c *ChangeSet) AddFunc(entry archive.Entry, open Opener, opts ...AddOption) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEdit)
	}
	if entry.Name() == "" {
		return fmt.Errorf("%w: entry has no name", ErrInvalidEdit)
	}
	if open == nil {
		return fmt.Errorf("%w: nil content for %s", ErrInvalidEdit, entry.Name())
	}

	cfg := addConfig{replace: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	c.edits = append(c.edits, Edit{
		kind:     EditAdd,
		addition: Addition{Entry: entry, Replace: cfg.replace, open: open},
	})
	return nil
}

// Edits returns the recorded edits in insertion order.
// The sequence may be iterated any number of times.
func (c *ChangeSet) Edits() iter.Seq[Edit] {
	return slices.Values(c.edits)
}

// Len returns the number of recorded edits.
func (c *ChangeSet) Len() int {
	return len(c.edits)
}

// deletions returns the recorded selectors in insertion order.
func (c *ChangeSet) deletions() []Selector {
	var out []Selector
	for e := range c.Edits() {
		if sel, ok := e.Deletion(); ok {
			out = append(out, sel)
		}
	}
	return out
}

// additions returns the recorded additions in insertion order.
func (c *ChangeSet) additions() []Addition {
	var out []Addition
	for e := range c.Edits() {
		if a, ok := e.Addition(); ok {
			out = append(out, a)
		}
	}
	return out
}

func entryName(e archive.Entry) string {
	if e == nil {
		return "<nil entry>"
	}
	return e.Name()
}

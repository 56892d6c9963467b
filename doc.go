// Package changeset rewrites sequential archives by applying a recorded set
// of edits in a single forward pass.
//
// A [ChangeSet] records deletions and additions. A [Performer] reads every
// entry of an [archive.Source] once, drops the deleted ones, substitutes
// replaced ones in place, copies the rest through, appends the remaining
// additions, and writes the result to an [archive.Sink]. At most one entry's
// content is in flight at a time, so memory use does not depend on archive
// size.
//
// The package knows nothing about tar, zip, jar or ar encodings; adapters
// for those live under the format directory.
//
// # Quick Start
//
// Delete an entry and add a new one:
//
//	cs := changeset.New()
//	cs.Delete("test2.xml")
//	f, err := os.Open("test.txt")
//	if err != nil {
//	    return err
//	}
//	if err := cs.Add(archive.NewFile("testdata/test.txt"), f); err != nil {
//	    return err
//	}
//	res, err := changeset.Perform(ctx, cs, src, dst)
//
// To rewrite archive files on disk, see format.Rewrite.
package changeset

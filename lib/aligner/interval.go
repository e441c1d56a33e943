//
// Copyright (C) 2015-2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package aligner

import (
	"fmt"

	"github.com/biogo/store/interval"

	"git.sr.ht/~vejnar/Rapi/lib/reference"
)

// Integer-specific intervals

// IntInterval is the span of a contig in the concatenated reference.
type IntInterval struct {
	Start, End int
	UID        uintptr
	Contig     *reference.Contig
}

func (i IntInterval) Overlap(b interval.IntRange) bool {
	// Half-open interval indexing.
	return i.End > b.Start && i.Start < b.End
}

func (i IntInterval) ID() uintptr {
	return i.UID
}

func (i IntInterval) Range() interval.IntRange {
	return interval.IntRange{Start: i.Start, End: i.End}
}

func (i IntInterval) String() string {
	if i.Contig == nil {
		return fmt.Sprintf("[%d,%d)#%d", i.Start, i.End, i.UID)
	}
	return fmt.Sprintf("[%d,%d)#%d-%s", i.Start, i.End, i.UID, i.Contig.Name)
}

// BuildContigTree builds a tree with one interval per contig at its offset in the concatenated reference.
func BuildContigTree(ref *reference.Reference) (tree *interval.IntTree, length int, err error) {
	tree = &interval.IntTree{}
	it := ref.Contigs()
	for it.HasNext() {
		c, err := it.Next()
		if err != nil {
			return nil, 0, err
		}
		iv := IntInterval{Start: length, End: length + c.Len, UID: uintptr(c.ID), Contig: c}
		if err = tree.Insert(iv, true); err != nil {
			return nil, 0, err
		}
		length += c.Len
	}
	tree.AdjustRanges()
	return tree, length, nil
}

// findContig returns the contig at offset pos of the concatenated reference.
func findContig(tree *interval.IntTree, pos int) (IntInterval, bool) {
	ivs := tree.Get(IntInterval{Start: pos, End: pos + 1})
	if len(ivs) == 0 {
		return IntInterval{}, false
	}
	return ivs[0].(IntInterval), true
}

//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package align describes the alignments an aligner attaches to a read.
package align

import (
	"git.sr.ht/~vejnar/Rapi/lib/cigar"
	"git.sr.ht/~vejnar/Rapi/lib/reference"
)

// Flag holds the alignment bit-flags.
type Flag uint8

const (
	Paired Flag = 1 << iota
	ProperPaired
	Mapped
	ReverseStrand
	Secondary
)

// Alignment is one placement of a read on the reference.
type Alignment struct {
	Contig        *reference.Contig // nil if unplaced
	Pos           int               // 1-based
	Cigar         []cigar.AlignOp
	MapQ          uint8
	Score         int
	Flags         Flag
	Mismatches    uint8
	GapOpens      uint8
	GapExtensions uint8
	Tags          []Tag
}

func (a *Alignment) IsPaired() bool       { return a.Flags&Paired != 0 }
func (a *Alignment) IsProperPaired() bool { return a.Flags&ProperPaired != 0 }
func (a *Alignment) IsMapped() bool       { return a.Flags&Mapped != 0 }
func (a *Alignment) IsReverse() bool      { return a.Flags&ReverseStrand != 0 }
func (a *Alignment) IsSecondary() bool    { return a.Flags&Secondary != 0 }

// CigarString returns the CIGAR text of a.
func (a *Alignment) CigarString() string { return cigar.Format(a.Cigar) }

// RefLength returns the number of reference bases covered by a.
func (a *Alignment) RefLength() int { return cigar.RefLength(a.Cigar) }

// End returns the 1-based position following the last reference base covered by a.
func (a *Alignment) End() int { return a.Pos + a.RefLength() }

// Tag returns the value of the first tag named key.
func (a *Alignment) Tag(key string) (TagValue, bool) {
	for _, t := range a.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return TagValue{}, false
}

// SetTag replaces the value of tag key, or appends it.
func (a *Alignment) SetTag(key string, v TagValue) {
	for i := range a.Tags {
		if a.Tags[i].Key == key {
			a.Tags[i].Value = v
			return
		}
	}
	a.Tags = append(a.Tags, Tag{Key: key, Value: v})
}

func sameContig(a, b *reference.Contig) bool {
	if a == nil || b == nil {
		return false
	}
	return a == b || (a.ID == b.ID && a.Name == b.Name)
}

// SameContig reports whether a and b are placed on the same contig.
func SameContig(a, b *Alignment) bool {
	return sameContig(a.Contig, b.Contig)
}

// InsertSize returns the signed template length between read alignment a and its mate b.
// The outer ends are taken strand-aware: the 5' end of each mate. It is 0 if
// either is unmapped or they lie on different contigs.
// InsertSize(a, b) == -InsertSize(b, a) and InsertSize(a, a) == 0.
func InsertSize(a, b *Alignment) int64 {
	if a == nil || b == nil || !a.IsMapped() || !b.IsMapped() || !SameContig(a, b) {
		return 0
	}
	p0 := int64(a.Pos)
	if a.IsReverse() {
		p0 += int64(a.RefLength()) - 1
	}
	p1 := int64(b.Pos)
	if b.IsReverse() {
		p1 += int64(b.RefLength()) - 1
	}
	var sign int64
	if p0 > p1 {
		sign = 1
	} else if p0 < p1 {
		sign = -1
	}
	return -(p0 - p1 + sign)
}

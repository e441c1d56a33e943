//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package batch

import (
	"fmt"

	"git.sr.ht/~vejnar/Rapi/lib/align"
	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

// Read is a sequenced read with its alignments.
// Qual holds Sanger (+33) encoded qualities, or is empty if unknown.
type Read struct {
	ID   string
	Seq  []byte
	Qual []byte
	Alns []align.Alignment
}

// Len returns the sequence length.
func (r *Read) Len() int { return len(r.Seq) }

func (r *Read) NAlignments() int { return len(r.Alns) }

// IsMapped reports whether the primary alignment is mapped.
func (r *Read) IsMapped() bool { return len(r.Alns) > 0 && r.Alns[0].IsMapped() }

// Alignment returns the i-th alignment. Index 0 is the primary alignment.
func (r *Read) Alignment(i int) (*align.Alignment, error) {
	if i < 0 || i >= len(r.Alns) {
		return nil, fmt.Errorf("alignment %d of read %s with %d alignments: %w", i, r.ID, len(r.Alns), errs.ErrIndexOutOfBounds)
	}
	return &r.Alns[i], nil
}

// Primary returns the primary alignment or nil.
func (r *Read) Primary() *align.Alignment {
	if len(r.Alns) == 0 {
		return nil
	}
	return &r.Alns[0]
}

func (r *Read) AddAlignment(a align.Alignment) { r.Alns = append(r.Alns, a) }

func (r *Read) SetAlignments(alns []align.Alignment) { r.Alns = alns }

func (r *Read) ClearAlignments() { r.Alns = r.Alns[:0] }

// Alignments returns an iterator over the alignments of r in stored order.
func (r *Read) Alignments() *AlnIter {
	return &AlnIter{read: r}
}

// AlnIter iterates once over the alignments of a read.
type AlnIter struct {
	read *Read
	next int
}

func (it *AlnIter) HasNext() bool { return it.next < len(it.read.Alns) }

// Next returns the next alignment, or ErrNoSuchElement past the end.
func (it *AlnIter) Next() (*align.Alignment, error) {
	if !it.HasNext() {
		return nil, errs.ErrNoSuchElement
	}
	a := &it.read.Alns[it.next]
	it.next++
	return a, nil
}

// QualEncoding is the offset of the input quality characters.
type QualEncoding int

const (
	QualSanger   QualEncoding = 33
	QualIllumina QualEncoding = 64
)

// ParseQualEncoding accepts "sanger" or "illumina".
func ParseQualEncoding(s string) (QualEncoding, error) {
	switch s {
	case "sanger", "33":
		return QualSanger, nil
	case "illumina", "64":
		return QualIllumina, nil
	}
	return 0, fmt.Errorf("unknown quality encoding %q: %w", s, errs.ErrInvalidParam)
}

func (e QualEncoding) String() string {
	switch e {
	case QualSanger:
		return "sanger"
	case QualIllumina:
		return "illumina"
	}
	return fmt.Sprintf("QualEncoding(%d)", int(e))
}

// trimID removes a trailing mate suffix "/1" or "/2".
func trimID(id string) string {
	n := len(id)
	if n > 2 && id[n-2] == '/' && (id[n-1] == '1' || id[n-1] == '2') {
		return id[:n-2]
	}
	return id
}

// newRead validates and copies its inputs into a Read.
func newRead(id string, seq, qual []byte, enc QualEncoding) (Read, error) {
	if len(seq) == 0 {
		return Read{}, fmt.Errorf("read %s has an empty sequence: %w", id, errs.ErrInvalidParam)
	}
	if len(qual) != 0 && len(qual) != len(seq) {
		return Read{}, fmt.Errorf("read %s sequence length %d and quality length %d differ: %w", id, len(seq), len(qual), errs.ErrInvalidParam)
	}
	if enc != QualSanger && enc != QualIllumina {
		return Read{}, fmt.Errorf("read %s: %v: %w", id, enc, errs.ErrInvalidParam)
	}
	r := Read{ID: trimID(id), Seq: append([]byte(nil), seq...)}
	if len(qual) > 0 {
		r.Qual = make([]byte, len(qual))
		for i, q := range qual {
			v := int(q) - int(enc) + int(QualSanger)
			if v < 33 || v > 126 {
				return Read{}, fmt.Errorf("read %s quality %q out of range for %v encoding: %w", id, q, enc, errs.ErrInvalidParam)
			}
			r.Qual[i] = byte(v)
		}
	}
	return r, nil
}

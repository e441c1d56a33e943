//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package reference

import (
	"fmt"

	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

// Contig is one reference sequence. ID is its index in the Reference.
type Contig struct {
	ID         int
	Name       string
	Len        int
	AssemblyID string
	Species    string
	URI        string
	MD5        []byte
}

// Reference is an ordered list of contigs. The order is the one used in SAM headers.
type Reference struct {
	Path    string
	contigs []Contig
	seqs    [][]byte
}

// New returns a Reference over contigs (IDs are reset to the contig index).
// seqs is optional; if given it must have one sequence per contig.
func New(path string, contigs []Contig, seqs [][]byte) (*Reference, error) {
	if seqs != nil && len(seqs) != len(contigs) {
		return nil, fmt.Errorf("%d sequences for %d contigs: %w", len(seqs), len(contigs), errs.ErrInvalidParam)
	}
	names := make(map[string]struct{}, len(contigs))
	ref := &Reference{Path: path, contigs: make([]Contig, len(contigs)), seqs: seqs}
	for i, c := range contigs {
		if c.Name == "" {
			return nil, fmt.Errorf("contig %d has no name: %w", i, errs.ErrInvalidParam)
		}
		if c.Len <= 0 {
			return nil, fmt.Errorf("contig %s has length %d: %w", c.Name, c.Len, errs.ErrInvalidParam)
		}
		if _, ok := names[c.Name]; ok {
			return nil, fmt.Errorf("duplicate contig %s: %w", c.Name, errs.ErrInvalidParam)
		}
		names[c.Name] = struct{}{}
		c.ID = i
		ref.contigs[i] = c
	}
	return ref, nil
}

// Len returns the number of contigs.
func (r *Reference) Len() int { return len(r.contigs) }

// Contig returns the i-th contig.
func (r *Reference) Contig(i int) (*Contig, error) {
	if i < 0 || i >= len(r.contigs) {
		return nil, fmt.Errorf("contig %d (n_contigs %d): %w", i, len(r.contigs), errs.ErrIndexOutOfBounds)
	}
	return &r.contigs[i], nil
}

// ContigByName returns the contig named name.
func (r *Reference) ContigByName(name string) (*Contig, bool) {
	for i := range r.contigs {
		if r.contigs[i].Name == name {
			return &r.contigs[i], true
		}
	}
	return nil, false
}

// HasSequences reports whether contig sequences were loaded.
func (r *Reference) HasSequences() bool { return r.seqs != nil }

// Sequence returns the upper-case sequence of the i-th contig. The slice must not be modified.
func (r *Reference) Sequence(i int) ([]byte, error) {
	if i < 0 || i >= len(r.contigs) {
		return nil, fmt.Errorf("contig %d (n_contigs %d): %w", i, len(r.contigs), errs.ErrIndexOutOfBounds)
	}
	if r.seqs == nil {
		return nil, fmt.Errorf("reference %s loaded without sequences: %w", r.Path, errs.ErrInvalidParam)
	}
	return r.seqs[i], nil
}

// Contigs returns an iterator over the contigs in reference order.
func (r *Reference) Contigs() *ContigIter {
	return &ContigIter{ref: r, end: len(r.contigs)}
}

// ContigIter is a single-pass iterator over the contigs of a Reference.
type ContigIter struct {
	ref  *Reference
	next int
	end  int
}

// HasNext reports whether Next would return a contig.
func (it *ContigIter) HasNext() bool { return it.next < it.end }

// Next returns the next contig or errs.ErrNoSuchElement past the end.
func (it *ContigIter) Next() (*Contig, error) {
	if it.next >= it.end {
		return nil, errs.ErrNoSuchElement
	}
	c, err := it.ref.Contig(it.next)
	if err != nil {
		return nil, err
	}
	it.next++
	return c, nil
}

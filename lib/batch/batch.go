//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package batch stores reads grouped in fragments of fixed arity.
//
// A Batch owns a flat array of reads. Fragment i holds reads
// i*A to i*A+A-1, where A is the number of reads per fragment.
// A Batch is not safe for concurrent mutation.
package batch

import (
	"fmt"
	"math"
	"unsafe"

	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

// MaxReads is the largest number of reads a Batch can hold.
var MaxReads int64 = 1 << 30

// MaxBytes bounds the memory of the read slots of a Batch (4 GiB).
var MaxBytes int64 = 1 << 32

const readSize = int64(unsafe.Sizeof(Read{}))

// maxReads returns the largest number of reads allowed by MaxReads and MaxBytes.
func maxReads() int64 {
	if n := MaxBytes / readSize; n < MaxReads {
		return n
	}
	return MaxReads
}

type Batch struct {
	arity int
	reads []Read
}

// New returns an empty Batch of readsPerFragment reads per fragment
// with room for capFragments fragments.
func New(readsPerFragment int, capFragments int64) (*Batch, error) {
	if readsPerFragment < 1 {
		return nil, fmt.Errorf("%d reads per fragment: %w", readsPerFragment, errs.ErrInvalidParam)
	}
	b := &Batch{arity: readsPerFragment}
	if err := b.Reserve(capFragments); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Batch) ReadsPerFragment() int { return b.arity }

// Len returns the number of reads.
func (b *Batch) Len() int { return len(b.reads) }

// NFragments returns the number of complete fragments.
func (b *Batch) NFragments() int { return len(b.reads) / b.arity }

// Capacity returns the number of fragments storable without reallocation.
func (b *Batch) Capacity() int { return cap(b.reads) / b.arity }

// ReadCapacity returns the number of reads storable without reallocation.
func (b *Batch) ReadCapacity() int { return cap(b.reads) }

// Reserve ensures room for at least nFragments fragments.
// On failure the batch is unchanged.
func (b *Batch) Reserve(nFragments int64) error {
	if nFragments < 0 {
		return fmt.Errorf("reserve %d fragments: %w", nFragments, errs.ErrInvalidParam)
	}
	if limit := maxReads(); nFragments > math.MaxInt64/int64(b.arity) || nFragments*int64(b.arity) > limit {
		return fmt.Errorf("reserve %d fragments of %d reads (max %d reads): %w", nFragments, b.arity, limit, errs.ErrOutOfMemory)
	}
	n := int(nFragments) * b.arity
	if n <= cap(b.reads) {
		return nil
	}
	reads := make([]Read, len(b.reads), n)
	copy(reads, b.reads)
	b.reads = reads
	return nil
}

// grow makes room for one more read.
func (b *Batch) grow() error {
	if len(b.reads) < cap(b.reads) {
		return nil
	}
	frags := int64(b.Capacity()) * 2
	if frags == 0 {
		frags = 1
	}
	if limit := maxReads() / int64(b.arity); frags > limit {
		frags = limit
	}
	if frags <= int64(b.Capacity()) {
		return fmt.Errorf("batch full with %d reads: %w", len(b.reads), errs.ErrOutOfMemory)
	}
	return b.Reserve(frags)
}

// Append adds one read. Every ReadsPerFragment appends complete a fragment.
// qual is empty or of the same length as seq, encoded with offset enc.
func (b *Batch) Append(id string, seq, qual []byte, enc QualEncoding) error {
	r, err := newRead(id, seq, qual, enc)
	if err != nil {
		return err
	}
	if err := b.grow(); err != nil {
		return err
	}
	b.reads = append(b.reads, r)
	return nil
}

// SetRead replaces the read at an existing position.
func (b *Batch) SetRead(fragment, read int, id string, seq, qual []byte, enc QualEncoding) error {
	if err := b.checkIndex(fragment, read, len(b.reads)); err != nil {
		return err
	}
	r, err := newRead(id, seq, qual, enc)
	if err != nil {
		return err
	}
	b.reads[fragment*b.arity+read] = r
	return nil
}

func (b *Batch) checkIndex(fragment, read, nReads int) error {
	if fragment < 0 || fragment >= (nReads+b.arity-1)/b.arity || read < 0 || read >= b.arity || fragment*b.arity+read >= nReads {
		return fmt.Errorf("read %d of fragment %d in batch with %d reads of %d per fragment: %w", read, fragment, nReads, b.arity, errs.ErrIndexOutOfBounds)
	}
	return nil
}

// Get returns the read of a complete fragment.
func (b *Batch) Get(fragment, read int) (*Read, error) {
	if err := b.checkIndex(fragment, read, b.NFragments()*b.arity); err != nil {
		return nil, err
	}
	return &b.reads[fragment*b.arity+read], nil
}

// Fragment returns a view of complete fragment i.
func (b *Batch) Fragment(i int) (Fragment, error) {
	if i < 0 || i >= b.NFragments() {
		return Fragment{}, fmt.Errorf("fragment %d in batch with %d fragments: %w", i, b.NFragments(), errs.ErrIndexOutOfBounds)
	}
	return Fragment{b: b, index: i}, nil
}

// Fragments returns an iterator over the fragments complete at the time of the call.
func (b *Batch) Fragments() *FragmentIter {
	return &FragmentIter{b: b, end: b.NFragments()}
}

// Clear removes all reads. Capacity is kept.
func (b *Batch) Clear() {
	for i := range b.reads {
		b.reads[i] = Read{}
	}
	b.reads = b.reads[:0]
}

// Fragment is a view over ReadsPerFragment consecutive reads of a Batch.
type Fragment struct {
	b     *Batch
	index int
}

func (f Fragment) Index() int { return f.index }

// Len returns the number of reads per fragment.
func (f Fragment) Len() int { return f.b.arity }

// Get returns read i of the fragment.
func (f Fragment) Get(i int) (*Read, error) {
	return f.b.Get(f.index, i)
}

// Set copies r into slot i of the fragment.
func (f Fragment) Set(i int, r *Read) error {
	if r == nil {
		return fmt.Errorf("read %d of fragment %d: %w", i, f.index, errs.ErrNullReadAssignment)
	}
	if err := f.b.checkIndex(f.index, i, f.b.NFragments()*f.b.arity); err != nil {
		return err
	}
	cp := Read{ID: r.ID, Seq: append([]byte(nil), r.Seq...)}
	if len(r.Qual) > 0 {
		cp.Qual = append([]byte(nil), r.Qual...)
	}
	if len(r.Alns) > 0 {
		cp.Alns = append(cp.Alns, r.Alns...)
	}
	f.b.reads[f.index*f.b.arity+i] = cp
	return nil
}

// Reads returns an iterator over the reads of the fragment.
func (f Fragment) Reads() *ReadIter {
	return &ReadIter{f: f}
}

// FragmentIter iterates once over the fragments of a Batch.
// Mutating the Batch during iteration ends it early.
type FragmentIter struct {
	b    *Batch
	next int
	end  int
}

func (it *FragmentIter) HasNext() bool {
	return it.next < it.end && it.next < it.b.NFragments()
}

// Next returns the next fragment, or ErrNoSuchElement past the end.
func (it *FragmentIter) Next() (Fragment, error) {
	if !it.HasNext() {
		return Fragment{}, errs.ErrNoSuchElement
	}
	f := Fragment{b: it.b, index: it.next}
	it.next++
	return f, nil
}

// ReadIter iterates once over the reads of a Fragment.
type ReadIter struct {
	f    Fragment
	next int
}

func (it *ReadIter) HasNext() bool {
	return it.next < it.f.b.arity && it.f.index < it.f.b.NFragments()
}

// Next returns the next read, or ErrNoSuchElement past the end.
func (it *ReadIter) Next() (*Read, error) {
	if !it.HasNext() {
		return nil, errs.ErrNoSuchElement
	}
	r, err := it.f.Get(it.next)
	if err != nil {
		return nil, err
	}
	it.next++
	return r, nil
}

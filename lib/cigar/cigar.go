//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package cigar converts between CIGAR text and a list of alignment operations.
package cigar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/biogo/hts/sam"

	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

// OpType is the kind of an alignment operation.
type OpType uint8

const (
	Match OpType = iota
	Insert
	Delete
	SoftClip
	HardClip
	Skip
	Pad
)

const symbols = "MIDSHNP"

// Symbol returns the one-character CIGAR symbol of t.
func (t OpType) Symbol() byte {
	if int(t) >= len(symbols) {
		return '?'
	}
	return symbols[t]
}

func (t OpType) String() string {
	switch t {
	case Match:
		return "Match"
	case Insert:
		return "Insert"
	case Delete:
		return "Delete"
	case SoftClip:
		return "SoftClip"
	case HardClip:
		return "HardClip"
	case Skip:
		return "Skip"
	case Pad:
		return "Pad"
	}
	return "OpType(" + strconv.Itoa(int(t)) + ")"
}

// ConsumesReference reports whether t advances along the reference.
func (t OpType) ConsumesReference() bool {
	return t == Match || t == Delete || t == Skip
}

// ConsumesQuery reports whether t advances along the read.
func (t OpType) ConsumesQuery() bool {
	return t == Match || t == Insert || t == SoftClip
}

// TypeFromSymbol decodes a CIGAR symbol.
func TypeFromSymbol(c byte) (OpType, bool) {
	switch c {
	case 'M':
		return Match, true
	case 'I':
		return Insert, true
	case 'D':
		return Delete, true
	case 'S':
		return SoftClip, true
	case 'H':
		return HardClip, true
	case 'N':
		return Skip, true
	case 'P':
		return Pad, true
	}
	return 0, false
}

// MaxLen is the largest operation length biogo and BAM can encode (28 bits).
const MaxLen = 1<<28 - 1

// AlignOp is one CIGAR operation. Its length is always positive.
type AlignOp struct {
	typ OpType
	len int
}

// NewAlignOp returns an operation of type t and length n.
func NewAlignOp(t OpType, n int) (AlignOp, error) {
	if n <= 0 {
		return AlignOp{}, fmt.Errorf("operation length must be positive (got %d): %w", n, errs.ErrInvalidCigarFormat)
	}
	if int(t) >= len(symbols) {
		return AlignOp{}, fmt.Errorf("unknown operation type %d: %w", t, errs.ErrInvalidCigarFormat)
	}
	return AlignOp{typ: t, len: n}, nil
}

// MustAlignOp is like NewAlignOp but panics on error. Meant for literals.
func MustAlignOp(t OpType, n int) AlignOp {
	op, err := NewAlignOp(t, n)
	if err != nil {
		panic(err)
	}
	return op
}

func (op AlignOp) Type() OpType { return op.typ }

func (op AlignOp) Len() int { return op.len }

func (op AlignOp) String() string {
	return strconv.Itoa(op.len) + string(op.typ.Symbol())
}

// Format returns the CIGAR string of ops, "*" if ops is empty.
func Format(ops []AlignOp) string {
	if len(ops) == 0 {
		return "*"
	}
	var b strings.Builder
	b.Grow(len(ops) * 4)
	for _, op := range ops {
		b.WriteString(strconv.Itoa(op.len))
		b.WriteByte(op.typ.Symbol())
	}
	return b.String()
}

// Parse scans a CIGAR string. "*" gives an empty list. Any character outside
// the (digits)(symbol) token grammar, a zero length or an empty string fails
// with errs.ErrInvalidCigarFormat.
func Parse(text string) ([]AlignOp, error) {
	if text == "*" {
		return []AlignOp{}, nil
	}
	var ops []AlignOp
	i := 0
	for i < len(text) {
		// Length
		j := i
		for j < len(text) && text[j] >= '0' && text[j] <= '9' {
			j++
		}
		if j == i || j == len(text) {
			break
		}
		n, err := strconv.Atoi(text[i:j])
		if err != nil {
			return nil, fmt.Errorf("bad length in CIGAR %q: %w", text, errs.ErrInvalidCigarFormat)
		}
		// Symbol
		t, ok := TypeFromSymbol(text[j])
		if !ok {
			break
		}
		op, err := NewAlignOp(t, n)
		if err != nil {
			return nil, fmt.Errorf("CIGAR %q: %w", text, err)
		}
		ops = append(ops, op)
		i = j + 1
	}
	if i < len(text) {
		return nil, fmt.Errorf("unparsed characters at offset %d in CIGAR %q: %w", i, text, errs.ErrInvalidCigarFormat)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("no operation in CIGAR %q: %w", text, errs.ErrInvalidCigarFormat)
	}
	return ops, nil
}

// RefLength returns the number of reference bases covered by ops (M, D and N).
func RefLength(ops []AlignOp) (length int) {
	for _, op := range ops {
		if op.typ.ConsumesReference() {
			length += op.len
		}
	}
	return
}

// QueryLength returns the number of read bases covered by ops (M, I and S).
func QueryLength(ops []AlignOp) (length int) {
	for _, op := range ops {
		if op.typ.ConsumesQuery() {
			length += op.len
		}
	}
	return
}

var toSAM = [...]sam.CigarOpType{
	Match:    sam.CigarMatch,
	Insert:   sam.CigarInsertion,
	Delete:   sam.CigarDeletion,
	SoftClip: sam.CigarSoftClipped,
	HardClip: sam.CigarHardClipped,
	Skip:     sam.CigarSkipped,
	Pad:      sam.CigarPadded,
}

// ToSAM converts ops to a biogo CIGAR. With forceHardClip, soft clips become hard clips.
// Operations longer than MaxLen fail with errs.ErrInvalidCigarFormat.
func ToSAM(ops []AlignOp, forceHardClip bool) (sam.Cigar, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	c := make(sam.Cigar, len(ops))
	for i, op := range ops {
		if op.len > MaxLen {
			return nil, fmt.Errorf("operation %s longer than %d: %w", op, MaxLen, errs.ErrInvalidCigarFormat)
		}
		t := op.typ
		if forceHardClip && t == SoftClip {
			t = HardClip
		}
		c[i] = sam.NewCigarOp(toSAM[t], op.len)
	}
	return c, nil
}

// FromSAM converts a biogo CIGAR. Sequence match/mismatch (=, X) become Match;
// back operations are rejected.
func FromSAM(c sam.Cigar) ([]AlignOp, error) {
	ops := make([]AlignOp, 0, len(c))
	for _, co := range c {
		var t OpType
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			t = Match
		case sam.CigarInsertion:
			t = Insert
		case sam.CigarDeletion:
			t = Delete
		case sam.CigarSoftClipped:
			t = SoftClip
		case sam.CigarHardClipped:
			t = HardClip
		case sam.CigarSkipped:
			t = Skip
		case sam.CigarPadded:
			t = Pad
		default:
			return nil, fmt.Errorf("unsupported operation %v: %w", co, errs.ErrInvalidCigarFormat)
		}
		op, err := NewAlignOp(t, co.Len())
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

//
// Copyright (C) 2015-2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package esam

import (
	"bytes"
	"fmt"
	"strconv"

	"git.sr.ht/~vejnar/Rapi/lib/align"
	"git.sr.ht/~vejnar/Rapi/lib/batch"
	"git.sr.ht/~vejnar/Rapi/lib/cigar"
	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

const (
	MDDeletion = iota
	MDMismatch
	MDSkip
)

type TagMDOp struct {
	Op     int
	Length int
	Seq    []byte
}

func isLetter(l byte) bool { return (l >= 'A' && l <= 'Z') || (l >= 'a' && l <= 'z') }

func isDigit(l byte) bool { return l >= '0' && l <= '9' }

// ParseTagMD parses the MD attribute to blocks.
func ParseTagMD(rawTag string) (blocks []TagMDOp, err error) {
	i := 0
	for i < len(rawTag) {
		l := rawTag[i]
		switch {
		case l == '^':
			i++ // Skipping "^"
			start := i
			for i < len(rawTag) && isLetter(rawTag[i]) {
				i++
			}
			if i == start {
				return blocks, fmt.Errorf("MD tag %q: empty deletion: %w", rawTag, errs.ErrInvalidParam)
			}
			blocks = append(blocks, TagMDOp{Op: MDDeletion, Length: i - start, Seq: []byte(rawTag[start:i])})
		case isLetter(l):
			blocks = append(blocks, TagMDOp{Op: MDMismatch, Length: 1, Seq: []byte{l}})
			i++
		case isDigit(l):
			start := i
			for i < len(rawTag) && isDigit(rawTag[i]) {
				i++
			}
			step, err := strconv.Atoi(rawTag[start:i])
			if err != nil {
				return blocks, err
			}
			if step > 0 {
				blocks = append(blocks, TagMDOp{Op: MDSkip, Length: step})
			}
		default:
			return blocks, fmt.Errorf("MD tag %q: unexpected %q: %w", rawTag, l, errs.ErrInvalidParam)
		}
	}
	return blocks, nil
}

// GetAln reconstitutes the alignment of read on the reference strand based on the CIGAR.
// The MD tag is used if present to recover the reference bases.
func GetAln(read *batch.Read, aln *align.Alignment) (ref, query, symbol []byte, err error) {
	seq := read.Seq
	if aln.IsReverse() {
		seq = ReverseComplement(seq)
	}
	if q := cigar.QueryLength(aln.Cigar); q > len(seq) {
		return nil, nil, nil, fmt.Errorf("CIGAR %s longer than read %s: %w", aln.CigarString(), read.ID, errs.ErrInvalidParam)
	}
	// Parsing CIGAR
	var iRead int
	for _, op := range aln.Cigar {
		t, length := op.Type(), op.Len()
		switch {
		case t.ConsumesQuery() && t.ConsumesReference():
			ref = append(ref, seq[iRead:iRead+length]...)
			query = append(query, seq[iRead:iRead+length]...)
			symbol = append(symbol, bytes.Repeat([]byte("|"), length)...)
			iRead += length
		case t.ConsumesReference():
			ref = append(ref, bytes.Repeat([]byte("N"), length)...)
			query = append(query, bytes.Repeat([]byte("-"), length)...)
			symbol = append(symbol, bytes.Repeat([]byte("."), length)...)
		case t.ConsumesQuery():
			if t == cigar.Insert {
				ref = append(ref, bytes.Repeat([]byte("-"), length)...)
				symbol = append(symbol, bytes.Repeat([]byte("."), length)...)
			} else {
				ref = append(ref, bytes.Repeat([]byte(" "), length)...)
				symbol = append(symbol, bytes.Repeat([]byte(" "), length)...)
			}
			query = append(query, seq[iRead:iRead+length]...)
			iRead += length
		}
	}
	// Parsing MD tag if present
	v, found := aln.Tag("MD")
	if !found {
		return
	}
	md, err := v.Text()
	if err != nil {
		return
	}
	blocks, err := ParseTagMD(md)
	if err != nil {
		return
	}
	var iRef int
	skipGaps := func() {
		for iRef < len(ref) && (ref[iRef] == '-' || ref[iRef] == ' ') {
			iRef++
		}
	}
	for _, b := range blocks {
		switch b.Op {
		case MDDeletion:
			for _, nt := range b.Seq {
				skipGaps()
				if iRef >= len(ref) {
					return ref, query, symbol, fmt.Errorf("MD tag %s longer than alignment: %w", md, errs.ErrInvalidParam)
				}
				ref[iRef] = nt
				iRef++
			}
		case MDMismatch:
			skipGaps()
			if iRef >= len(ref) {
				return ref, query, symbol, fmt.Errorf("MD tag %s longer than alignment: %w", md, errs.ErrInvalidParam)
			}
			ref[iRef] = b.Seq[0]
			symbol[iRef] = 'X'
			iRef++
		case MDSkip:
			for iBlock := 0; iBlock < b.Length; {
				if iRef >= len(ref) {
					return ref, query, symbol, fmt.Errorf("MD tag %s longer than alignment: %w", md, errs.ErrInvalidParam)
				}
				if ref[iRef] != '-' && ref[iRef] != ' ' && symbol[iRef] != '.' {
					iBlock++
				}
				iRef++
			}
		}
	}
	return
}

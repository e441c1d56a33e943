//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package esam

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/biogo/hts/sam"

	"git.sr.ht/~vejnar/Rapi/lib/align"
	"git.sr.ht/~vejnar/Rapi/lib/batch"
	"git.sr.ht/~vejnar/Rapi/lib/cigar"
	"git.sr.ht/~vejnar/Rapi/lib/errs"
	"git.sr.ht/~vejnar/Rapi/lib/reference"
)

const Comment = "File generated through the RAPI aligner interface using the specified aligner plug-in"

// Options of a Formatter. The @PG and @CO header lines are written if AlignerName is set.
type Options struct {
	AlignerName    string
	AlignerVersion string
	PluginVersion  string
	// AllAlignments writes one line per alignment instead of one per read.
	AllAlignments bool
}

// Formatter converts reads of a Batch aligned on a Reference to SAM records.
type Formatter struct {
	ref    *reference.Reference
	header *sam.Header
	refs   []*sam.Reference
	opts   Options
}

// NewHeader returns the SAM header of ref with one @SQ line per contig.
func NewHeader(ref *reference.Reference) (*sam.Header, error) {
	if ref == nil {
		return nil, fmt.Errorf("no reference: %w", errs.ErrInvalidParam)
	}
	refs := make([]*sam.Reference, 0, ref.Len())
	it := ref.Contigs()
	for it.HasNext() {
		c, err := it.Next()
		if err != nil {
			return nil, err
		}
		var uri *url.URL
		if c.URI != "" {
			uri, err = url.Parse(c.URI)
			if err != nil {
				return nil, fmt.Errorf("contig %s: %w", c.Name, err)
			}
		}
		sr, err := sam.NewReference(c.Name, c.AssemblyID, c.Species, c.Len, c.MD5, uri)
		if err != nil {
			return nil, fmt.Errorf("contig %s: %w", c.Name, err)
		}
		refs = append(refs, sr)
	}
	return sam.NewHeader(nil, refs)
}

// FormatHeader returns the @SQ lines of ref.
func FormatHeader(ref *reference.Reference) (string, error) {
	h, err := NewHeader(ref)
	if err != nil {
		return "", err
	}
	text, err := h.MarshalText()
	return string(text), err
}

func NewFormatter(ref *reference.Reference, opts Options) (*Formatter, error) {
	h, err := NewHeader(ref)
	if err != nil {
		return nil, err
	}
	if opts.AlignerName != "" {
		id := "rapi (" + opts.AlignerName + ")"
		version := opts.PluginVersion + " (" + opts.AlignerVersion + ")"
		if err := h.AddProgram(sam.NewProgram(id, id, "", "", version)); err != nil {
			return nil, err
		}
		h.Comments = append(h.Comments, Comment)
	}
	return &Formatter{ref: ref, header: h, refs: h.Refs(), opts: opts}, nil
}

// Header returns the SAM header used by the records of f.
func (f *Formatter) Header() *sam.Header { return f.header }

// FormatHeader returns the header text, one line per @SQ, @PG and @CO entry.
func (f *Formatter) FormatHeader() (string, error) {
	text, err := f.header.MarshalText()
	return string(text), err
}

// FormatBatch returns one line per read of every complete fragment of b.
func (f *Formatter) FormatBatch(b *batch.Batch) (string, error) {
	var buf bytes.Buffer
	it := b.Fragments()
	for it.HasNext() {
		frag, err := it.Next()
		if err != nil {
			return "", err
		}
		if err := f.writeFragment(&buf, frag); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// FormatFragment returns the lines of the reads of fragment i of b.
func (f *Formatter) FormatFragment(b *batch.Batch, i int) (string, error) {
	frag, err := b.Fragment(i)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := f.writeFragment(&buf, frag); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (f *Formatter) writeFragment(buf *bytes.Buffer, frag batch.Fragment) error {
	recs, err := f.Records(frag)
	if err != nil {
		return err
	}
	for _, r := range recs {
		line, err := r.MarshalSAM(sam.FlagDecimal)
		if err != nil {
			return fmt.Errorf("read %s: %w", r.Name, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return nil
}

// Records returns the SAM records of the reads of frag in order.
// The mate of a read is the next read of the fragment.
func (f *Formatter) Records(frag batch.Fragment) ([]*sam.Record, error) {
	n := frag.Len()
	var recs []*sam.Record
	for i := 0; i < n; i++ {
		read, err := frag.Get(i)
		if err != nil {
			return nil, err
		}
		var mate *batch.Read
		if n > 1 {
			if mate, err = frag.Get((i + 1) % n); err != nil {
				return nil, err
			}
		}
		var flag sam.Flags
		if n > 1 {
			if i == 0 {
				flag |= sam.Read1
			} else if i == n-1 {
				flag |= sam.Read2
			} else {
				flag |= sam.Read1 | sam.Read2
			}
		}
		nAln := 1
		if f.opts.AllAlignments && read.NAlignments() > 1 {
			nAln = read.NAlignments()
		}
		for k := 0; k < nAln; k++ {
			ia := k
			if read.NAlignments() == 0 {
				ia = -1
			}
			rec, err := f.record(read, ia, mate, flag)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (f *Formatter) samRef(c *reference.Contig) (*sam.Reference, error) {
	if c == nil {
		return nil, nil
	}
	if c.ID < 0 || c.ID >= len(f.refs) || f.refs[c.ID].Name() != c.Name {
		return nil, fmt.Errorf("contig %s (%d) not in reference: %w", c.Name, c.ID, errs.ErrInvalidParam)
	}
	return f.refs[c.ID], nil
}

// record formats alignment ia of read, or read as unmapped if ia < 0.
func (f *Formatter) record(read *batch.Read, ia int, mate *batch.Read, flag sam.Flags) (*sam.Record, error) {
	var aln, mateAln align.Alignment
	if ia >= 0 {
		aln = read.Alns[ia]
	}
	if mate != nil {
		if m := mate.Primary(); m != nil {
			mateAln = *m
		}
		aln.Flags |= align.Paired
		mateAln.Flags |= align.Paired
	}
	if !aln.IsMapped() && mate != nil && mateAln.IsMapped() {
		aln.Contig, aln.Pos = mateAln.Contig, mateAln.Pos
		aln.Flags = aln.Flags&^align.ReverseStrand | mateAln.Flags&align.ReverseStrand
	} else if aln.IsMapped() && mate != nil && !mateAln.IsMapped() {
		mateAln.Contig, mateAln.Pos = aln.Contig, aln.Pos
		mateAln.Flags = mateAln.Flags&^align.ReverseStrand | aln.Flags&align.ReverseStrand
	}
	supplementary := ia > 0 && !aln.IsSecondary()

	if mate != nil && !mateAln.IsMapped() {
		flag |= sam.MateUnmapped
	}
	if mate != nil && mateAln.IsReverse() {
		flag |= sam.MateReverse
	}
	if aln.IsPaired() {
		flag |= sam.Paired
	}
	if !aln.IsMapped() {
		flag |= sam.Unmapped
	}
	if aln.IsReverse() {
		flag |= sam.Reverse
	}
	if aln.IsMapped() {
		if aln.IsProperPaired() {
			flag |= sam.ProperPair
		}
		if aln.IsSecondary() {
			flag |= sam.Secondary
		}
	}
	if supplementary {
		flag |= sam.Supplementary
	}

	rec := &sam.Record{Name: read.ID, Flags: flag, Pos: -1, MatePos: -1}
	var err error
	if aln.Contig != nil {
		if aln.Pos < 1 {
			return nil, fmt.Errorf("read %s aligned at position %d: %w", read.ID, aln.Pos, errs.ErrInvalidParam)
		}
		if rec.Ref, err = f.samRef(aln.Contig); err != nil {
			return nil, err
		}
		rec.Pos = aln.Pos - 1
		rec.MapQ = aln.MapQ
		if rec.Cigar, err = cigar.ToSAM(aln.Cigar, supplementary); err != nil {
			return nil, fmt.Errorf("read %s: %w", read.ID, err)
		}
	}
	if mateAln.Contig != nil {
		if rec.MateRef, err = f.samRef(mateAln.Contig); err != nil {
			return nil, err
		}
		rec.MatePos = mateAln.Pos - 1
		if aln.IsMapped() && align.SameContig(&aln, &mateAln) {
			rec.TempLen = int(align.InsertSize(&aln, &mateAln))
		}
	}

	if !aln.IsSecondary() {
		var front, rear int
		if supplementary && len(aln.Cigar) > 0 {
			if t := aln.Cigar[0].Type(); t == cigar.SoftClip || t == cigar.HardClip {
				front = aln.Cigar[0].Len()
			}
			if last := aln.Cigar[len(aln.Cigar)-1]; last.Type() == cigar.SoftClip || last.Type() == cigar.HardClip {
				rear = last.Len()
			}
		}
		if front+rear > read.Len() {
			return nil, fmt.Errorf("read %s of length %d clipped by %d: %w", read.ID, read.Len(), front+rear, errs.ErrInvalidParam)
		}
		seq, qual := samSeqQual(read, front, rear, aln.IsReverse())
		rec.Seq = sam.NewSeq(seq)
		rec.Qual = qual
	}

	if len(aln.Cigar) > 0 {
		if err := addAux(rec, "NM", int(aln.Mismatches)); err != nil {
			return nil, err
		}
	}
	if aln.Score >= 0 {
		if err := addAux(rec, "AS", aln.Score); err != nil {
			return nil, err
		}
	}
	for _, t := range aln.Tags {
		aux, err := t.Aux()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", read.ID, err)
		}
		rec.AuxFields = append(rec.AuxFields, aux)
	}
	return rec, nil
}

func addAux(rec *sam.Record, key string, v int) error {
	aux, err := sam.NewAux(sam.NewTag(key), v)
	if err != nil {
		return err
	}
	rec.AuxFields = append(rec.AuxFields, aux)
	return nil
}

// samSeqQual returns the sequence and the phred qualities of read as written
// in SAM: clipped by front and rear, reverse complemented if reverse.
func samSeqQual(read *batch.Read, front, rear int, reverse bool) (seq, qual []byte) {
	n := read.Len() - front - rear
	seq = make([]byte, n)
	if len(read.Qual) > 0 {
		qual = make([]byte, n)
	}
	if !reverse {
		for i := 0; i < n; i++ {
			seq[i] = read.Seq[front+i]
			if qual != nil {
				qual[i] = read.Qual[front+i] - 33
			}
		}
		return
	}
	// On the reverse strand the CIGAR starts from the end of the read
	end := read.Len() - front - 1
	for i := 0; i < n; i++ {
		seq[i] = Complement(read.Seq[end-i])
		if qual != nil {
			qual[i] = read.Qual[end-i] - 33
		}
	}
	return
}

// Complement returns the complement of nucleotide nt. Non-ACGT letters give N.
func Complement(nt byte) byte {
	switch nt {
	case 'A', 'a':
		return 'T'
	case 'C', 'c':
		return 'G'
	case 'G', 'g':
		return 'C'
	case 'T', 't':
		return 'A'
	}
	return 'N'
}

// ReverseComplement returns the reverse complement of seq.
func ReverseComplement(seq []byte) []byte {
	rc := make([]byte, len(seq))
	for i, nt := range seq {
		rc[len(seq)-1-i] = Complement(nt)
	}
	return rc
}

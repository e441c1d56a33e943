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
	"io"
	"strings"
	"testing"

	"github.com/biogo/hts/bam"
	qt "github.com/frankban/quicktest"
	"github.com/pierrec/lz4"

	"git.sr.ht/~vejnar/Rapi/lib/align"
	"git.sr.ht/~vejnar/Rapi/lib/batch"
	"git.sr.ht/~vejnar/Rapi/lib/cigar"
	"git.sr.ht/~vejnar/Rapi/lib/errs"
	"git.sr.ht/~vejnar/Rapi/lib/reference"
)

func testReference(c *qt.C) *reference.Reference {
	ref, err := reference.New("test.fa", []reference.Contig{{Name: "chr1", Len: 60000}, {Name: "chr2", Len: 1000}}, nil)
	c.Assert(err, qt.IsNil)
	return ref
}

func contig(c *qt.C, ref *reference.Reference, i int) *reference.Contig {
	ct, err := ref.Contig(i)
	c.Assert(err, qt.IsNil)
	return ct
}

func ops(c *qt.C, s string) []cigar.AlignOp {
	o, err := cigar.Parse(s)
	c.Assert(err, qt.IsNil)
	return o
}

func line(fields ...string) string {
	return strings.Join(fields, "\t") + "\n"
}

func getRead(c *qt.C, b *batch.Batch, f, r int) *batch.Read {
	read, err := b.Get(f, r)
	c.Assert(err, qt.IsNil)
	return read
}

func TestFormatHeader(t *testing.T) {
	c := qt.New(t)
	ref, err := reference.New("", []reference.Contig{{Name: "chr1", Len: 60000}}, nil)
	c.Assert(err, qt.IsNil)
	text, err := FormatHeader(ref)
	c.Assert(err, qt.IsNil)
	c.Assert(strings.HasPrefix(text, "@SQ\t"), qt.IsTrue)
	c.Assert(text, qt.Contains, "SN:chr1")
	c.Assert(text, qt.Contains, "LN:60000")
	c.Assert(strings.Count(text, "\n"), qt.Equals, 1)

	_, err = FormatHeader(nil)
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)
	_, err = NewFormatter(nil, Options{})
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)
}

func TestFormatHeaderProgram(t *testing.T) {
	c := qt.New(t)
	ref := testReference(c)
	f, err := NewFormatter(ref, Options{AlignerName: "exact", AlignerVersion: "0.1", PluginVersion: "1.0"})
	c.Assert(err, qt.IsNil)
	text, err := f.FormatHeader()
	c.Assert(err, qt.IsNil)
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	c.Assert(lines, qt.HasLen, 4)
	c.Assert(lines[0], qt.Contains, "SN:chr1")
	c.Assert(lines[1], qt.Contains, "SN:chr2")
	c.Assert(lines[2], qt.Contains, "@PG\tID:rapi (exact)")
	c.Assert(lines[2], qt.Contains, "VN:1.0 (0.1)")
	c.Assert(lines[3], qt.Equals, "@CO\t"+Comment)
}

func TestFormatPair(t *testing.T) {
	c := qt.New(t)
	ref := testReference(c)
	chr1 := contig(c, ref, 0)
	b, err := batch.New(2, 1)
	c.Assert(err, qt.IsNil)
	seq1, seq2 := strings.Repeat("ACGTACGTAC", 6), strings.Repeat("AAAAACCCCC", 6)
	qual2 := "#" + strings.Repeat("I", 59)
	c.Assert(b.Append("p/1", []byte(seq1), []byte(strings.Repeat("I", 60)), batch.QualSanger), qt.IsNil)
	c.Assert(b.Append("p/2", []byte(seq2), []byte(qual2), batch.QualSanger), qt.IsNil)

	getRead(c, b, 0, 0).AddAlignment(align.Alignment{
		Contig: chr1, Pos: 32461, Cigar: ops(c, "60M"), MapQ: 60, Score: 60,
		Flags: align.Mapped | align.Paired | align.ProperPaired,
		Tags:  []align.Tag{{Key: "MD", Value: align.TextValue("60")}},
	})
	getRead(c, b, 0, 1).AddAlignment(align.Alignment{
		Contig: chr1, Pos: 32522, Cigar: ops(c, "60M"), MapQ: 60, Score: 58, Mismatches: 1,
		Flags: align.Mapped | align.Paired | align.ProperPaired | align.ReverseStrand,
		Tags:  []align.Tag{{Key: "MD", Value: align.TextValue("30A29")}},
	})

	f, err := NewFormatter(ref, Options{})
	c.Assert(err, qt.IsNil)
	text, err := f.FormatBatch(b)
	c.Assert(err, qt.IsNil)
	want := line("p", "99", "chr1", "32461", "60", "60M", "=", "32522", "121", seq1, strings.Repeat("I", 60), "NM:i:0", "AS:i:60", "MD:Z:60") +
		line("p", "147", "chr1", "32522", "60", "60M", "=", "32461", "-121", strings.Repeat("GGGGGTTTTT", 6), strings.Repeat("I", 59)+"#", "NM:i:1", "AS:i:58", "MD:Z:30A29")
	c.Assert(text, qt.Equals, want)
}

func TestFormatUnmapped(t *testing.T) {
	c := qt.New(t)
	ref := testReference(c)
	chr1 := contig(c, ref, 0)
	b, err := batch.New(2, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Append("u", []byte("ACGT"), []byte("ABCD"), batch.QualSanger), qt.IsNil)
	c.Assert(b.Append("u", []byte("GGTT"), nil, batch.QualSanger), qt.IsNil)
	c.Assert(b.Append("m", []byte("ACGTACGTAC"), nil, batch.QualSanger), qt.IsNil)
	c.Assert(b.Append("m", []byte("TTTT"), nil, batch.QualSanger), qt.IsNil)
	getRead(c, b, 1, 0).AddAlignment(align.Alignment{Contig: chr1, Pos: 100, Cigar: ops(c, "10M"), MapQ: 30, Score: 10, Flags: align.Mapped})

	f, err := NewFormatter(ref, Options{})
	c.Assert(err, qt.IsNil)
	text, err := f.FormatFragment(b, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(text, qt.Equals,
		line("u", "77", "*", "0", "0", "*", "*", "0", "0", "ACGT", "ABCD", "AS:i:0")+
			line("u", "141", "*", "0", "0", "*", "*", "0", "0", "GGTT", "*", "AS:i:0"))

	text, err = f.FormatFragment(b, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(text, qt.Equals,
		line("m", "73", "chr1", "100", "30", "10M", "=", "100", "0", "ACGTACGTAC", "*", "NM:i:0", "AS:i:10")+
			line("m", "133", "chr1", "100", "0", "*", "=", "100", "0", "TTTT", "*", "AS:i:0"))

	_, err = f.FormatFragment(b, 2)
	c.Assert(err, qt.ErrorIs, errs.ErrIndexOutOfBounds)
	_, err = f.FormatFragment(b, -1)
	c.Assert(err, qt.ErrorIs, errs.ErrIndexOutOfBounds)

	text, err = f.FormatBatch(b)
	c.Assert(err, qt.IsNil)
	c.Assert(strings.Count(text, "\n"), qt.Equals, 4)
	c.Assert(strings.HasSuffix(text, "\n\n"), qt.IsFalse)
}

func TestFormatSingle(t *testing.T) {
	c := qt.New(t)
	ref := testReference(c)
	chr2 := contig(c, ref, 1)
	b, err := batch.New(1, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Append("s", []byte("ACGG"), []byte("ABCD"), batch.QualSanger), qt.IsNil)
	getRead(c, b, 0, 0).AddAlignment(align.Alignment{
		Contig: chr2, Pos: 10, Cigar: ops(c, "4M"), MapQ: 37, Score: 3, Mismatches: 1,
		Flags: align.Mapped | align.ReverseStrand,
		Tags:  []align.Tag{{Key: "XT", Value: align.CharValue('U')}, {Key: "XS", Value: align.IntValue(-1)}},
	})
	f, err := NewFormatter(ref, Options{})
	c.Assert(err, qt.IsNil)
	text, err := f.FormatBatch(b)
	c.Assert(err, qt.IsNil)
	c.Assert(text, qt.Equals, line("s", "16", "chr2", "10", "37", "4M", "*", "0", "0", "CCGT", "DCBA", "NM:i:1", "AS:i:3", "XT:A:U", "XS:i:-1"))

	// Negative score has no AS tag
	getRead(c, b, 0, 0).Alns[0].Score = -1
	text, err = f.FormatBatch(b)
	c.Assert(err, qt.IsNil)
	c.Assert(text, qt.Not(qt.Contains), "AS:i")
}

func TestFormatAllAlignments(t *testing.T) {
	c := qt.New(t)
	ref := testReference(c)
	chr1 := contig(c, ref, 0)
	b, err := batch.New(1, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Append("a", []byte("ACGTACGTAC"), []byte("ABCDEFGHIJ"), batch.QualSanger), qt.IsNil)
	r := getRead(c, b, 0, 0)
	r.AddAlignment(align.Alignment{Contig: chr1, Pos: 100, Cigar: ops(c, "10M"), MapQ: 60, Score: 10, Flags: align.Mapped})
	r.AddAlignment(align.Alignment{Contig: chr1, Pos: 900, Cigar: ops(c, "10M"), Score: 8, Flags: align.Mapped | align.Secondary})
	r.AddAlignment(align.Alignment{Contig: chr1, Pos: 500, Cigar: ops(c, "3S7M"), Score: 7, Flags: align.Mapped})

	f, err := NewFormatter(ref, Options{})
	c.Assert(err, qt.IsNil)
	text, err := f.FormatBatch(b)
	c.Assert(err, qt.IsNil)
	c.Assert(strings.Count(text, "\n"), qt.Equals, 1)

	f, err = NewFormatter(ref, Options{AllAlignments: true})
	c.Assert(err, qt.IsNil)
	text, err = f.FormatBatch(b)
	c.Assert(err, qt.IsNil)
	c.Assert(text, qt.Equals,
		line("a", "0", "chr1", "100", "60", "10M", "*", "0", "0", "ACGTACGTAC", "ABCDEFGHIJ", "NM:i:0", "AS:i:10")+
			line("a", "256", "chr1", "900", "0", "10M", "*", "0", "0", "*", "*", "NM:i:0", "AS:i:8")+
			line("a", "2048", "chr1", "500", "0", "3H7M", "*", "0", "0", "TACGTAC", "DEFGHIJ", "NM:i:0", "AS:i:7"))
}

func TestFormatInvalid(t *testing.T) {
	c := qt.New(t)
	ref := testReference(c)
	b, err := batch.New(1, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Append("x", []byte("ACGT"), nil, batch.QualSanger), qt.IsNil)
	f, err := NewFormatter(ref, Options{})
	c.Assert(err, qt.IsNil)

	r := getRead(c, b, 0, 0)
	r.SetAlignments([]align.Alignment{{Contig: &reference.Contig{ID: 7, Name: "chrX"}, Pos: 1, Cigar: ops(c, "4M"), Flags: align.Mapped}})
	_, err = f.FormatBatch(b)
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)

	r.SetAlignments([]align.Alignment{{Contig: contig(c, ref, 0), Pos: 0, Cigar: ops(c, "4M"), Flags: align.Mapped}})
	_, err = f.FormatBatch(b)
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)

	r.SetAlignments([]align.Alignment{{Contig: contig(c, ref, 0), Pos: 1, Cigar: ops(c, "4M"), Flags: align.Mapped,
		Tags: []align.Tag{{Key: "LONG", Value: align.IntValue(1)}}}})
	_, err = f.FormatBatch(b)
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)
}

func TestReverseComplement(t *testing.T) {
	c := qt.New(t)
	c.Assert(string(ReverseComplement([]byte("AACGTn"))), qt.Equals, "NACGTT")
}

func TestParsePathSAM(t *testing.T) {
	c := qt.New(t)
	p, err := ParsePathSAM("out.sam.lz4", "sam+lz4hc")
	c.Assert(err, qt.IsNil)
	c.Assert(p, qt.DeepEquals, PathSAM{Path: "out.sam.lz4", Zip: "lz4hc"})
	p, err = ParsePathSAM("out.bam", "BAM")
	c.Assert(err, qt.IsNil)
	c.Assert(p.Binary, qt.IsTrue)
	for _, format := range []string{"cram", "sam+gz", "bam+lz4"} {
		_, err = ParsePathSAM("x", format)
		c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam, qt.Commentf("%s", format))
	}
}

func writeTestBatch(c *qt.C, p PathSAM) (*bytes.Buffer, string) {
	ref := testReference(c)
	b, err := batch.New(1, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(b.Append("w", []byte("ACGTACGTAC"), []byte("IIIIIIIIII"), batch.QualSanger), qt.IsNil)
	getRead(c, b, 0, 0).AddAlignment(align.Alignment{Contig: contig(c, ref, 0), Pos: 11, Cigar: ops(c, "10M"), MapQ: 60, Score: 10, Flags: align.Mapped})

	f, err := NewFormatter(ref, Options{})
	c.Assert(err, qt.IsNil)
	frag, err := b.Fragment(0)
	c.Assert(err, qt.IsNil)
	recs, err := f.Records(frag)
	c.Assert(err, qt.IsNil)
	c.Assert(recs, qt.HasLen, 1)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, f.Header(), p, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(w.Write(recs[0]), qt.IsNil)
	c.Assert(w.Close(), qt.IsNil)
	c.Assert(w.NWrite, qt.Equals, uint64(1))

	header, err := f.FormatHeader()
	c.Assert(err, qt.IsNil)
	body, err := f.FormatBatch(b)
	c.Assert(err, qt.IsNil)
	return &buf, header + body
}

func TestWriterSAM(t *testing.T) {
	c := qt.New(t)
	buf, want := writeTestBatch(c, PathSAM{})
	c.Assert(buf.String(), qt.Equals, want)
}

func TestWriterLZ4(t *testing.T) {
	c := qt.New(t)
	buf, want := writeTestBatch(c, PathSAM{Zip: "lz4"})
	got, err := io.ReadAll(lz4.NewReader(buf))
	c.Assert(err, qt.IsNil)
	c.Assert(string(got), qt.Equals, want)
}

func TestWriterBAM(t *testing.T) {
	c := qt.New(t)
	buf, _ := writeTestBatch(c, PathSAM{Binary: true})
	br, err := bam.NewReader(buf, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(br.Header().Refs(), qt.HasLen, 2)
	r, err := br.Read()
	c.Assert(err, qt.IsNil)
	c.Assert(r.Name, qt.Equals, "w")
	c.Assert(r.Ref.Name(), qt.Equals, "chr1")
	c.Assert(r.Pos, qt.Equals, 10)
	c.Assert(r.Cigar.String(), qt.Equals, "10M")
	c.Assert(br.Close(), qt.IsNil)
}

func TestParseTagMD(t *testing.T) {
	c := qt.New(t)
	blocks, err := ParseTagMD("10A5^AC6")
	c.Assert(err, qt.IsNil)
	c.Assert(blocks, qt.DeepEquals, []TagMDOp{
		{Op: MDSkip, Length: 10},
		{Op: MDMismatch, Length: 1, Seq: []byte("A")},
		{Op: MDSkip, Length: 5},
		{Op: MDDeletion, Length: 2, Seq: []byte("AC")},
		{Op: MDSkip, Length: 6},
	})
	blocks, err = ParseTagMD("0A0")
	c.Assert(err, qt.IsNil)
	c.Assert(blocks, qt.DeepEquals, []TagMDOp{{Op: MDMismatch, Length: 1, Seq: []byte("A")}})
	_, err = ParseTagMD("5*")
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)
	_, err = ParseTagMD("5^")
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)
}

func TestGetAln(t *testing.T) {
	c := qt.New(t)
	read := &batch.Read{ID: "g", Seq: []byte("TTACGTCCGT")}
	aln := &align.Alignment{Pos: 1, Cigar: ops(c, "2S4M2D4M"), Flags: align.Mapped,
		Tags: []align.Tag{{Key: "MD", Value: align.TextValue("1A2^GT4")}}}
	ref, query, symbol, err := GetAln(read, aln)
	c.Assert(err, qt.IsNil)
	c.Assert(string(ref), qt.Equals, "  AAGTGTCCGT")
	c.Assert(string(query), qt.Equals, "TTACGT--CCGT")
	c.Assert(string(symbol), qt.Equals, "  |X||..||||")

	// Without MD the reference is copied from the read
	aln.Tags = nil
	ref, _, _, err = GetAln(read, aln)
	c.Assert(err, qt.IsNil)
	c.Assert(string(ref), qt.Equals, "  ACGTNNCCGT")

	// Reverse strand uses the reverse complement of the read
	aln = &align.Alignment{Pos: 1, Cigar: ops(c, "10M"), Flags: align.Mapped | align.ReverseStrand}
	_, query, _, err = GetAln(read, aln)
	c.Assert(err, qt.IsNil)
	c.Assert(string(query), qt.Equals, "ACGGACGTAA")

	aln = &align.Alignment{Pos: 1, Cigar: ops(c, "20M"), Flags: align.Mapped}
	_, _, _, err = GetAln(read, aln)
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)
}

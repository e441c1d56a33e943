//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package reference

import (
	"crypto/md5"
	"os"
	"path/filepath"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

func TestNew(t *testing.T) {
	c := qt.New(t)
	ref, err := New("mini", []Contig{{Name: "chr1", Len: 60000}, {Name: "chr2", Len: 10}}, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(ref.Len(), qt.Equals, 2)
	ctg, err := ref.Contig(1)
	c.Assert(err, qt.IsNil)
	c.Assert(ctg.Name, qt.Equals, "chr2")
	c.Assert(ctg.ID, qt.Equals, 1)
	_, err = ref.Contig(2)
	c.Assert(err, qt.ErrorIs, errs.ErrIndexOutOfBounds)
	_, err = ref.Contig(-1)
	c.Assert(err, qt.ErrorIs, errs.ErrIndexOutOfBounds)
	_, err = ref.Sequence(0)
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)
	found, ok := ref.ContigByName("chr1")
	c.Assert(ok, qt.IsTrue)
	c.Assert(found.Len, qt.Equals, 60000)
}

func TestNewInvalid(t *testing.T) {
	c := qt.New(t)
	for name, contigs := range map[string][]Contig{
		"no name":   {{Len: 3}},
		"zero len":  {{Name: "a"}},
		"duplicate": {{Name: "a", Len: 1}, {Name: "a", Len: 2}},
	} {
		_, err := New("x", contigs, nil)
		c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam, qt.Commentf("%s", name))
	}
	_, err := New("x", []Contig{{Name: "a", Len: 1}}, [][]byte{})
	c.Assert(err, qt.ErrorIs, errs.ErrInvalidParam)
}

func TestContigIter(t *testing.T) {
	c := qt.New(t)
	ref, err := New("mini", []Contig{{Name: "chr1", Len: 5}, {Name: "chr2", Len: 6}}, nil)
	c.Assert(err, qt.IsNil)
	it := ref.Contigs()
	var names []string
	for it.HasNext() {
		ctg, err := it.Next()
		c.Assert(err, qt.IsNil)
		names = append(names, ctg.Name)
	}
	c.Assert(names, qt.DeepEquals, []string{"chr1", "chr2"})
	_, err = it.Next()
	c.Assert(err, qt.ErrorIs, errs.ErrNoSuchElement)
	// A fresh iterator starts over
	c.Assert(ref.Contigs().HasNext(), qt.IsTrue)
}

func TestReadFASTA(t *testing.T) {
	c := qt.New(t)
	fa := ">chr1 first contig\nACGTacgt\nNNAC\n>chr2\nGGGG\n"
	ref, err := ReadFASTA(strings.NewReader(fa), "test.fa", Meta{Species: "Danio rerio"})
	c.Assert(err, qt.IsNil)
	c.Assert(ref.Len(), qt.Equals, 2)
	ctg, _ := ref.Contig(0)
	c.Assert(ctg.Name, qt.Equals, "chr1")
	c.Assert(ctg.Len, qt.Equals, 12)
	c.Assert(ctg.Species, qt.Equals, "Danio rerio")
	sum := md5.Sum([]byte("ACGTACGTNNAC"))
	c.Assert(ctg.MD5, qt.DeepEquals, sum[:])
	seq, err := ref.Sequence(0)
	c.Assert(err, qt.IsNil)
	c.Assert(string(seq), qt.Equals, "ACGTACGTNNAC")
	c.Assert(ref.HasSequences(), qt.IsTrue)
}

func TestOpenTAB(t *testing.T) {
	c := qt.New(t)
	p := filepath.Join(c.TempDir(), "ref.fai")
	err := os.WriteFile(p, []byte("chr1\t60000\t6\t60\t61\nchrM\t16569\t61012\t60\t61\n"), 0666)
	c.Assert(err, qt.IsNil)
	ref, err := OpenTAB(p, Meta{AssemblyID: "GRCz11"})
	c.Assert(err, qt.IsNil)
	c.Assert(ref.Len(), qt.Equals, 2)
	ctg, _ := ref.Contig(1)
	c.Assert(ctg.Name, qt.Equals, "chrM")
	c.Assert(ctg.Len, qt.Equals, 16569)
	c.Assert(ctg.AssemblyID, qt.Equals, "GRCz11")
	c.Assert(ref.HasSequences(), qt.IsFalse)
}

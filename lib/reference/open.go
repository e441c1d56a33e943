//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package reference

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	"github.com/klauspost/compress/gzip"
)

// Meta is copied into every contig loaded by OpenFASTA or OpenTAB.
type Meta struct {
	AssemblyID string
	Species    string
	URI        string
}

func openMaybeGzip(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, f.Close, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return gz, func() error {
		gz.Close()
		return f.Close()
	}, nil
}

// OpenFASTA loads contigs and their sequences from a (optionally gzipped) FASTA file.
// Sequences are upper-cased and the contig MD5 is computed over them.
func OpenFASTA(path string, meta Meta) (*Reference, error) {
	r, closer, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer closer()

	return ReadFASTA(r, path, meta)
}

// ReadFASTA is OpenFASTA over an io.Reader.
func ReadFASTA(r io.Reader, path string, meta Meta) (*Reference, error) {
	var contigs []Contig
	var seqs [][]byte
	sc := seqio.NewScanner(fasta.NewReader(r, linear.NewSeq("", nil, alphabet.DNAredundant)))
	for sc.Next() {
		s := sc.Seq().(*linear.Seq)
		b := make([]byte, len(s.Seq))
		for i, l := range s.Seq {
			b[i] = byte(l)
		}
		b = bytes.ToUpper(b)
		sum := md5.Sum(b)
		contigs = append(contigs, Contig{
			Name:       s.Name(),
			Len:        len(b),
			AssemblyID: meta.AssemblyID,
			Species:    meta.Species,
			URI:        meta.URI,
			MD5:        sum[:],
		})
		seqs = append(seqs, b)
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("Error while parsing FASTA %s: %w", path, err)
	}
	if len(contigs) == 0 {
		return nil, fmt.Errorf("No sequence in FASTA %s", path)
	}
	return New(path, contigs, seqs)
}

// OpenTAB parses a tabulated file with name and length of each contig in its
// first two columns (a FASTA index .fai works) and returns a Reference without sequences.
func OpenTAB(tpath string, meta Meta) (ref *Reference, err error) {
	tfos, err := os.Open(tpath)
	if err != nil {
		return
	}
	defer tfos.Close()

	var contigs []Contig
	var length, iline int
	tscanner := bufio.NewScanner(tfos)
	for tscanner.Scan() {
		iline++
		line := tscanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("Line %d of %s: expected name and length", iline, tpath)
		}
		length, err = strconv.Atoi(fields[1])
		if err != nil {
			return
		}
		contigs = append(contigs, Contig{Name: fields[0], Len: length, AssemblyID: meta.AssemblyID, Species: meta.Species, URI: meta.URI})
	}
	if err = tscanner.Err(); err != nil {
		return
	}
	return New(tpath, contigs, nil)
}

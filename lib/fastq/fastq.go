//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package fastq reads FASTQ files into batches.
package fastq

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"git.sr.ht/~vejnar/Rapi/lib/batch"
)

var ErrFormat = errors.New("invalid FASTQ")

// Record is one FASTQ entry. ID is the header up to the first space.
type Record struct {
	ID   string
	Seq  []byte
	Qual []byte
}

type Reader struct {
	reader *bufio.Reader
	closer func() error
	Path   string
	iline  int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReaderSize(r, 1<<20)}
}

// Open opens path ("-" for stdin), decompressing it if it ends with ".gz".
func Open(path string) (*Reader, error) {
	var r io.Reader
	var closer func() error
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r, closer = f, f.Close
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			if closer != nil {
				closer()
			}
			return nil, err
		}
		fcloser := closer
		r, closer = gz, func() error {
			gz.Close()
			if fcloser != nil {
				return fcloser()
			}
			return nil
		}
	}
	fr := NewReader(r)
	fr.Path, fr.closer = path, closer
	return fr, nil
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

func (r *Reader) readLine() ([]byte, error) {
	line, err := r.reader.ReadBytes('\n')
	if err == io.EOF && len(line) > 0 {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	r.iline++
	return bytes.TrimRight(line, "\r\n"), nil
}

func (r *Reader) formatError(msg string) error {
	return fmt.Errorf("%s line %d: %s: %w", r.Path, r.iline, msg, ErrFormat)
}

// Read returns the next record, or io.EOF at the end of the input.
func (r *Reader) Read() (*Record, error) {
	// Header
	var line []byte
	var err error
	for {
		line, err = r.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) > 0 {
			break
		}
	}
	if line[0] != '@' {
		return nil, r.formatError("header line must start with @")
	}
	rec := &Record{ID: string(line[1:])}
	if i := strings.IndexAny(rec.ID, " \t"); i >= 0 {
		rec.ID = rec.ID[:i]
	}
	// Sequence
	if line, err = r.readLine(); err != nil {
		return nil, r.truncated(err)
	}
	rec.Seq = append([]byte(nil), line...)
	// Separator
	if line, err = r.readLine(); err != nil {
		return nil, r.truncated(err)
	}
	if len(line) == 0 || line[0] != '+' {
		return nil, r.formatError("separator line must start with +")
	}
	// Quality
	if line, err = r.readLine(); err != nil {
		return nil, r.truncated(err)
	}
	rec.Qual = append([]byte(nil), line...)
	if len(rec.Seq) != len(rec.Qual) {
		return nil, r.formatError("sequence and quality lengths differ")
	}
	return rec, nil
}

func (r *Reader) truncated(err error) error {
	if err == io.EOF {
		return r.formatError("truncated record")
	}
	return err
}

// FillBatch appends up to n fragments to b. Reads of a fragment come from
// one reader per read or, with a single reader, from consecutive records
// (interleaved). It returns the number of fragments appended and io.EOF once
// the input is exhausted. Readers ending at different records fail with ErrFormat.
func FillBatch(b *batch.Batch, n int, enc batch.QualEncoding, readers ...*Reader) (int, error) {
	arity := b.ReadsPerFragment()
	if len(readers) != 1 && len(readers) != arity {
		return 0, fmt.Errorf("%d inputs for %d reads per fragment: %w", len(readers), arity, ErrFormat)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < arity; j++ {
			r := readers[0]
			if len(readers) > 1 {
				r = readers[j]
			}
			rec, err := r.Read()
			if err == io.EOF && j == 0 {
				for _, mr := range readers[1:] {
					if _, err := mr.Read(); err != io.EOF {
						if err != nil {
							return i, err
						}
						return i, mr.formatError("more records than " + r.Path)
					}
				}
				return i, io.EOF
			}
			if err == io.EOF {
				return i, r.formatError(fmt.Sprintf("missing read %d of fragment", j+1))
			}
			if err != nil {
				return i, err
			}
			if err := b.Append(rec.ID, rec.Seq, rec.Qual, enc); err != nil {
				return i, fmt.Errorf("%s line %d: %w", r.Path, r.iline, err)
			}
		}
	}
	return n, nil
}

//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/biogo/hts/sam"
	"golang.org/x/sync/errgroup"

	"git.sr.ht/~vejnar/Rapi/lib/aligner"
	"git.sr.ht/~vejnar/Rapi/lib/batch"
	"git.sr.ht/~vejnar/Rapi/lib/esam"
	"git.sr.ht/~vejnar/Rapi/lib/fastq"
	"git.sr.ht/~vejnar/Rapi/lib/htsdb"
	"git.sr.ht/~vejnar/Rapi/lib/reference"
)

// Number of batches in flight between reader, aligner and writer.
const nBatchPool = 3

type Pipeline struct {
	Ref              *reference.Reference
	Aligner          aligner.Aligner
	Formatter        *esam.Formatter
	Readers          []*fastq.Reader
	ReadsPerFragment int
	QualEncoding     batch.QualEncoding
	BatchSize        int
	// Optional outputs
	Writer   *esam.Writer
	Exporter *htsdb.Exporter
	// Verbose
	Verbose      io.Writer
	TimeStart    time.Time
	VerboseLevel int
}

// AddCommas adds commas after every 3 characters.
func AddCommas(s string) string {
	if len(s) <= 3 {
		return s
	} else {
		return AddCommas(s[0:len(s)-3]) + "," + s[len(s)-3:]
	}
}

// AlignFastq reads fragments in batches, aligns them and writes the records.
func AlignFastq(ctx context.Context, p Pipeline) (*Report, error) {
	g, gctx := errgroup.WithContext(ctx)
	chAln := make(chan *batch.Batch, nBatchPool)
	chOut := make(chan *batch.Batch, nBatchPool)

	// Init batch pool
	pool := make(chan *batch.Batch, nBatchPool)
	for i := 0; i < cap(pool); i++ {
		b, err := batch.New(p.ReadsPerFragment, int64(p.BatchSize))
		if err != nil {
			return nil, err
		}
		pool <- b
	}

	// Read FASTQ
	g.Go(func() error {
		defer close(chAln)
		for {
			var b *batch.Batch
			select {
			case <-gctx.Done():
				return gctx.Err()
			case b = <-pool:
			}
			n, err := fastq.FillBatch(b, p.BatchSize, p.QualEncoding, p.Readers...)
			if err != nil && err != io.EOF {
				return err
			}
			if n > 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case chAln <- b:
				}
			}
			if err == io.EOF {
				return nil
			}
		}
	})

	// Align
	g.Go(func() error {
		defer close(chOut)
		for b := range chAln {
			if err := p.Aligner.AlignReads(gctx, p.Ref, b); err != nil {
				return err
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case chOut <- b:
			}
		}
		return nil
	})

	// Write
	report := NewReport()
	g.Go(func() error {
		timeLog := time.Now()
		for b := range chOut {
			if err := p.writeBatch(b, report); err != nil {
				return err
			}
			b.Clear()
			pool <- b

			if p.VerboseLevel > 0 {
				timeNow := time.Now()
				if timeNow.Sub(timeLog).Minutes() > 1. {
					fmt.Fprintf(p.Verbose, "%.1fmin - %s fragment(s) - %.2f Mf/hr\n", timeNow.Sub(p.TimeStart).Minutes(), AddCommas(strconv.FormatUint(report.NFragment, 10)), (float64(report.NFragment)/timeNow.Sub(p.TimeStart).Hours())/1000000.)
					timeLog = timeNow
				}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

func (p *Pipeline) writeBatch(b *batch.Batch, report *Report) error {
	var recs []*sam.Record
	it := b.Fragments()
	for it.HasNext() {
		frag, err := it.Next()
		if err != nil {
			return err
		}
		frecs, err := p.Formatter.Records(frag)
		if err != nil {
			return err
		}
		recs = append(recs, frecs...)
		if err := report.AddFragment(frag); err != nil {
			return err
		}
		if p.VerboseLevel > 2 {
			if err := p.printFragment(frag); err != nil {
				return err
			}
		}
	}
	if p.Writer != nil {
		for _, r := range recs {
			if err := p.Writer.Write(r); err != nil {
				return err
			}
		}
	}
	if p.Exporter != nil {
		if _, err := p.Exporter.Insert(recs); err != nil {
			return err
		}
	}
	return nil
}

// printFragment displays the primary alignment of each mapped read.
func (p *Pipeline) printFragment(frag batch.Fragment) error {
	it := frag.Reads()
	for it.HasNext() {
		read, err := it.Next()
		if err != nil {
			return err
		}
		aln := read.Primary()
		if aln == nil || !aln.IsMapped() {
			fmt.Fprintf(p.Verbose, "%s unmapped\n", read.ID)
			continue
		}
		ref, query, symbol, err := esam.GetAln(read, aln)
		if err != nil {
			return err
		}
		fmt.Fprintf(p.Verbose, "%s %s:%d %s\n%s\n%s\n%s\n", read.ID, aln.Contig.Name, aln.Pos, aln.CigarString(), ref, symbol, query)
	}
	return nil
}

//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/fatih/set.v0"

	"git.sr.ht/~vejnar/Rapi/lib/batch"
)

type Report struct {
	NFragment   uint64
	NRead       uint64
	NMapped     uint64
	NProperPair uint64
	mappedIDs   set.Interface
	contigs     set.Interface
}

func NewReport() *Report {
	return &Report{mappedIDs: set.New(set.ThreadSafe), contigs: set.New(set.ThreadSafe)}
}

func (r *Report) AddFragment(frag batch.Fragment) error {
	r.NFragment++
	it := frag.Reads()
	for it.HasNext() {
		read, err := it.Next()
		if err != nil {
			return err
		}
		r.NRead++
		aln := read.Primary()
		if aln == nil || !aln.IsMapped() {
			continue
		}
		r.NMapped++
		if aln.IsProperPaired() {
			r.NProperPair++
		}
		r.mappedIDs.Add(read.ID)
		r.contigs.Add(aln.Contig.Name)
	}
	return nil
}

func WriteReport(pathReport string, r *Report) (err error) {
	countReport := map[string]uint64{
		"fragment":          r.NFragment,
		"read":              r.NRead,
		"align_mapped":      r.NMapped,
		"align_proper_pair": r.NProperPair,
		"align_unique_id":   uint64(r.mappedIDs.Size()),
		"contig_hit":        uint64(r.contigs.Size()),
	}
	report, _ := json.MarshalIndent(countReport, "", "  ")
	if pathReport != "-" {
		if f, err := os.Create(pathReport); err != nil {
			return err
		} else {
			f.Write(report)
			f.Close()
		}
	} else {
		fmt.Println(string(report))
	}
	return nil
}

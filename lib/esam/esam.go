//
// Copyright © 2015 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package esam formats aligned reads as SAM records and writes them as SAM or BAM.
package esam

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/pierrec/lz4"

	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

// PathSAM stores Path to SAM (Binary=false) or BAM (Binary=true) file.
// Zip is "", "lz4" or "lz4hc" for SAM.
type PathSAM struct {
	Path   string
	Binary bool
	Zip    string
}

// ParsePathSAM parses a path and a format "sam", "bam", "sam+lz4" or "sam+lz4hc".
func ParsePathSAM(path, format string) (PathSAM, error) {
	p := PathSAM{Path: path}
	if strings.Contains(format, "+") {
		doubleFormat := strings.SplitN(format, "+", 2)
		format, p.Zip = doubleFormat[0], doubleFormat[1]
	}
	switch strings.ToLower(format) {
	case "sam":
	case "bam":
		p.Binary = true
	default:
		return p, fmt.Errorf("unknown output format %q: %w", format, errs.ErrInvalidParam)
	}
	switch p.Zip {
	case "", "lz4", "lz4hc":
	default:
		return p, fmt.Errorf("unknown compression %q: %w", p.Zip, errs.ErrInvalidParam)
	}
	if p.Binary && p.Zip != "" {
		return p, fmt.Errorf("BAM output cannot be compressed with %s: %w", p.Zip, errs.ErrInvalidParam)
	}
	return p, nil
}

type GenericWriter interface {
	Write(buf []byte) (n int, err error)
	Close() error
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Writer writes SAM records to SAM, lz4 compressed SAM or BAM.
type Writer struct {
	f      io.Closer
	zw     GenericWriter
	sw     *sam.Writer
	bw     *bam.Writer
	NWrite uint64
}

// NewWriter writes the header h to w and returns a Writer for records.
// nWorker is the number of BAM compression workers.
func NewWriter(w io.Writer, h *sam.Header, p PathSAM, nWorker int) (*Writer, error) {
	sw := &Writer{}
	var err error
	if p.Binary {
		if sw.bw, err = bam.NewWriter(w, h, nWorker); err != nil {
			return nil, err
		}
		return sw, nil
	}
	switch p.Zip {
	case "lz4":
		sw.zw = lz4.NewWriter(w)
	case "lz4hc":
		lzWriter := lz4.NewWriter(w)
		lzWriter.Header = lz4.Header{CompressionLevel: 9}
		sw.zw = lzWriter
	default:
		sw.zw = nopCloser{w}
	}
	if sw.sw, err = sam.NewWriter(sw.zw, h, sam.FlagDecimal); err != nil {
		return nil, err
	}
	return sw, nil
}

// Create opens p.Path ("-" for stdout) and returns a Writer on it.
func Create(p PathSAM, h *sam.Header, nWorker int) (*Writer, error) {
	if p.Path == "-" {
		return NewWriter(os.Stdout, h, p, nWorker)
	}
	f, err := os.Create(p.Path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, h, p, nWorker)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.f = f
	return w, nil
}

func (w *Writer) Write(r *sam.Record) (err error) {
	if w.bw != nil {
		err = w.bw.Write(r)
	} else {
		err = w.sw.Write(r)
	}
	if err == nil {
		w.NWrite++
	}
	return
}

// Close flushes the compression layers and closes the file opened by Create.
func (w *Writer) Close() error {
	var err error
	if w.bw != nil {
		err = w.bw.Close()
	} else {
		err = w.zw.Close()
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

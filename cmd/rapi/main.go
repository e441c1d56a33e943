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
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~vejnar/Rapi/lib/aligner"
	"git.sr.ht/~vejnar/Rapi/lib/batch"
	"git.sr.ht/~vejnar/Rapi/lib/esam"
	"git.sr.ht/~vejnar/Rapi/lib/fastq"
	"git.sr.ht/~vejnar/Rapi/lib/htsdb"
	"git.sr.ht/~vejnar/Rapi/lib/reference"
)

var version = "DEV"

// parseParams parses "key=value" pairs separated by commas.
func parseParams(raw string) (map[string]string, error) {
	params := make(map[string]string)
	if len(raw) == 0 {
		return params, nil
	}
	for _, kv := range strings.Split(raw, ",") {
		i := strings.Index(kv, "=")
		if i < 1 {
			return nil, fmt.Errorf("Invalid aligner parameter %q", kv)
		}
		params[kv[:i]] = kv[i+1:]
	}
	return params, nil
}

func main() {
	// Arguments: General
	var pathReport string
	var nWorker, verboseLevel int
	var verbose, printVersion bool
	flag.StringVar(&pathReport, "path_report", "", "Write report to path (stdout with -)")
	flag.IntVar(&nWorker, "num_worker", 1, "Number of worker(s)")
	flag.IntVar(&verboseLevel, "verbose_level", 0, "Verbose level")
	flag.BoolVar(&verbose, "verbose", false, "Verbose")
	flag.BoolVar(&printVersion, "version", false, "Print version and quit")
	// Arguments: Reference
	var pathReference, formatReference, assemblyID, species, uri string
	flag.StringVar(&pathReference, "path_reference", "", "Path to reference (FASTA or tabulated)")
	flag.StringVar(&formatReference, "format_reference", "fasta", "Format of reference file: 'fasta' or 'tab'")
	flag.StringVar(&assemblyID, "reference_assembly", "", "Assembly ID reported in SAM header")
	flag.StringVar(&species, "reference_species", "", "Species reported in SAM header")
	flag.StringVar(&uri, "reference_uri", "", "URI reported in SAM header")
	// Arguments: Input
	var pathFastqsRaw, qualityEncodingRaw string
	var interleaved bool
	var batchSize int
	flag.StringVar(&pathFastqsRaw, "path_fastq", "", "Path to FASTQ file(s) (comma separated, one per read of fragment)")
	flag.BoolVar(&interleaved, "interleaved", false, "Paired reads interleaved in one FASTQ file")
	flag.StringVar(&qualityEncodingRaw, "quality_encoding", "sanger", "Base quality encoding: 'sanger' (33) or 'illumina' (64)")
	flag.IntVar(&batchSize, "batch_size", 10000, "Number of fragments per batch")
	// Arguments: Aligner
	var alignerName, alignerParamsRaw string
	var mapqMin, isizeMin, isizeMax int
	var ignoreUnsupported bool
	flag.StringVar(&alignerName, "aligner", aligner.ExactName, "Aligner plug-in ("+strings.Join(aligner.Names(), ", ")+")")
	flag.StringVar(&alignerParamsRaw, "aligner_params", "", "Aligner parameters (key=value, comma separated)")
	flag.IntVar(&mapqMin, "mapq_min", 0, "Minimum mapping quality")
	flag.IntVar(&isizeMin, "isize_min", 0, "Minimum insert size of proper pair")
	flag.IntVar(&isizeMax, "isize_max", 1000, "Maximum insert size of proper pair")
	flag.BoolVar(&ignoreUnsupported, "ignore_unsupported", false, "Ignore parameters unsupported by aligner")
	// Arguments: Output
	var pathSAMOut, formatOut, pathDB, dbTable string
	var allAlignments bool
	flag.StringVar(&pathSAMOut, "path_sam_out", "-", "Path to output SAM/BAM file (stdout with -, none if empty)")
	flag.StringVar(&formatOut, "format_out", "sam", "Output format: 'sam', 'bam', 'sam+lz4' or 'sam+lz4hc'")
	flag.BoolVar(&allAlignments, "all_alignments", false, "Output secondary alignments")
	flag.StringVar(&pathDB, "path_db", "", "Path to SQLite database to export mapped reads")
	flag.StringVar(&dbTable, "db_table", "alignments", "Table name in SQLite database")
	// Arguments: Parse
	flag.Parse()

	// Version
	if printVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Verbose
	if verbose && verboseLevel == 0 {
		verboseLevel = 1
	}
	var vout io.Writer = os.Stdout
	if pathSAMOut == "-" {
		vout = os.Stderr
	}

	// Max CPU
	runtime.GOMAXPROCS(nWorker * 2)

	// Time start
	var timeStart time.Time
	if verboseLevel > 0 {
		timeStart = time.Now()
	}

	// Check arguments
	if len(pathReference) == 0 {
		log.Fatal("No reference input")
	}
	if len(pathFastqsRaw) == 0 {
		log.Fatal("No FASTQ input")
	}
	if mapqMin < 0 || mapqMin > 255 {
		log.Fatal("Mapping quality must be between 0 and 255")
	}
	if batchSize < 1 {
		log.Fatal("Batch size must be positive")
	}
	qualityEncoding, err := batch.ParseQualEncoding(qualityEncodingRaw)
	if err != nil {
		log.Fatal(err)
	}
	alignerParams, err := parseParams(alignerParamsRaw)
	if err != nil {
		log.Fatal(err)
	}

	// Reference
	if verboseLevel > 0 {
		fmt.Fprintf(vout, "%.1fmin - Loading reference\n", time.Now().Sub(timeStart).Minutes())
	}
	meta := reference.Meta{AssemblyID: assemblyID, Species: species, URI: uri}
	var ref *reference.Reference
	switch formatReference {
	case "fasta":
		ref, err = reference.OpenFASTA(pathReference, meta)
	case "tab":
		ref, err = reference.OpenTAB(pathReference, meta)
	default:
		log.Fatalf("Unknown reference format %s", formatReference)
	}
	if err != nil {
		log.Fatal(err)
	}
	if verboseLevel > 0 {
		fmt.Fprintf(vout, "%.1fmin - Loaded %s contig(s)\n", time.Now().Sub(timeStart).Minutes(), AddCommas(strconv.Itoa(ref.Len())))
	}

	// FASTQ
	var readers []*fastq.Reader
	for _, p := range strings.Split(pathFastqsRaw, ",") {
		r, err := fastq.Open(p)
		if err != nil {
			log.Fatal(err)
		}
		defer r.Close()
		readers = append(readers, r)
	}
	readsPerFragment := len(readers)
	if interleaved {
		if len(readers) != 1 {
			log.Fatal("Interleaved input requires one FASTQ file")
		}
		readsPerFragment = 2
	}

	// Aligner
	opts := aligner.DefaultOptions()
	opts.NThreads = nWorker
	opts.MapqMin = uint8(mapqMin)
	opts.IsizeMin = isizeMin
	opts.IsizeMax = isizeMax
	opts.IgnoreUnsupported = ignoreUnsupported
	opts.Parameters = alignerParams
	alner, err := aligner.Open(alignerName, opts)
	if err != nil {
		log.Fatal(err)
	}

	// Formatter
	formatter, err := esam.NewFormatter(ref, esam.Options{
		AlignerName:    alner.Name(),
		AlignerVersion: alner.Version(),
		PluginVersion:  aligner.PluginVersion,
		AllAlignments:  allAlignments,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Output
	var writer *esam.Writer
	if len(pathSAMOut) > 0 {
		pathSAM, err := esam.ParsePathSAM(pathSAMOut, formatOut)
		if err != nil {
			log.Fatal(err)
		}
		writer, err = esam.Create(pathSAM, formatter.Header(), nWorker)
		if err != nil {
			log.Fatal(err)
		}
	}
	var exporter *htsdb.Exporter
	if len(pathDB) > 0 {
		exporter, err = htsdb.Open(pathDB, dbTable)
		if err != nil {
			log.Fatal(err)
		}
	}

	// Align
	if verboseLevel > 0 {
		fmt.Fprintf(vout, "%.1fmin - Aligning with %s %s\n", time.Now().Sub(timeStart).Minutes(), alner.Name(), alner.Version())
	}
	report, err := AlignFastq(context.Background(), Pipeline{
		Ref:              ref,
		Aligner:          alner,
		Formatter:        formatter,
		Readers:          readers,
		ReadsPerFragment: readsPerFragment,
		QualEncoding:     qualityEncoding,
		BatchSize:        batchSize,
		Writer:           writer,
		Exporter:         exporter,
		Verbose:          vout,
		TimeStart:        timeStart,
		VerboseLevel:     verboseLevel,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Close output
	if writer != nil {
		if err := writer.Close(); err != nil {
			log.Fatal(err)
		}
	}
	if exporter != nil {
		if verboseLevel > 0 {
			counts, err := htsdb.SelectContigCounts(exporter.DB(), exporter.Table)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Fprint(vout, htsdb.FormatCount(counts))
		}
		if err := exporter.Close(); err != nil {
			log.Fatal(err)
		}
	}

	// Report
	if len(pathReport) > 0 {
		if err := WriteReport(pathReport, report); err != nil {
			log.Fatal(err)
		}
	}

	if verboseLevel > 0 {
		fmt.Fprintf(vout, "%.1fmin - %s fragment(s), %s read(s) mapped\n", time.Now().Sub(timeStart).Minutes(), AddCommas(strconv.FormatUint(report.NFragment, 10)), AddCommas(strconv.FormatUint(report.NMapped, 10)))
	}
}

//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package aligner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/biogo/store/interval"
	"golang.org/x/sync/errgroup"

	"git.sr.ht/~vejnar/Rapi/lib/align"
	"git.sr.ht/~vejnar/Rapi/lib/batch"
	"git.sr.ht/~vejnar/Rapi/lib/cigar"
	"git.sr.ht/~vejnar/Rapi/lib/errs"
	"git.sr.ht/~vejnar/Rapi/lib/esam"
	"git.sr.ht/~vejnar/Rapi/lib/reference"
)

const (
	ExactName    = "exact"
	ExactVersion = "0.1.0"

	mapqMax         = 60
	mismatchPenalty = 4
)

// Exact is an ungapped aligner on both strands. Candidate positions are found
// with non-overlapping k-mer seeds of the read and kept if they have at most
// max_mismatches mismatches.
//
// Parameters: seed_length (12), max_mismatches (4), max_secondary (0), max_occurrences (100).
type Exact struct {
	opts           Options
	seedLength     int
	maxMismatches  int
	maxSecondary   int
	maxOccurrences int

	mu    sync.Mutex
	ref   *reference.Reference
	index *exactIndex
}

type exactIndex struct {
	genome []byte
	tree   *interval.IntTree
	kmers  map[uint64][]int
}

func NewExact(opts Options) (Aligner, error) {
	if err := opts.Check("seed_length", "max_mismatches", "max_secondary", "max_occurrences"); err != nil {
		return nil, err
	}
	if opts.NThreads < 1 {
		opts.NThreads = 1
	}
	a := &Exact{opts: opts}
	var err error
	if a.seedLength, err = opts.Int("seed_length", 12); err != nil {
		return nil, err
	}
	if a.seedLength < 1 || a.seedLength > 31 {
		return nil, fmt.Errorf("seed_length %d not in [1,31]: %w", a.seedLength, errs.ErrInvalidParam)
	}
	if a.maxMismatches, err = opts.Int("max_mismatches", 4); err != nil {
		return nil, err
	}
	if a.maxSecondary, err = opts.Int("max_secondary", 0); err != nil {
		return nil, err
	}
	if a.maxOccurrences, err = opts.Int("max_occurrences", 100); err != nil {
		return nil, err
	}
	if a.maxMismatches < 0 || a.maxSecondary < 0 || a.maxOccurrences < 1 {
		return nil, fmt.Errorf("negative parameter: %w", errs.ErrInvalidParam)
	}
	return a, nil
}

func (a *Exact) Name() string    { return ExactName }
func (a *Exact) Version() string { return ExactVersion }

var nt2 = [256]int8{}

func init() {
	for i := range nt2 {
		nt2[i] = -1
	}
	for i, nt := range []byte("ACGT") {
		nt2[nt] = int8(i)
		nt2[nt+'a'-'A'] = int8(i)
	}
}

// encodeKmer returns the 2-bit encoding of seq, false if seq has a non-ACGT base.
func encodeKmer(seq []byte) (uint64, bool) {
	var k uint64
	for _, nt := range seq {
		v := nt2[nt]
		if v < 0 {
			return 0, false
		}
		k = k<<2 | uint64(v)
	}
	return k, true
}

// loadIndex builds the k-mer index of ref, once per reference.
func (a *Exact) loadIndex(ref *reference.Reference) (*exactIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ref == ref && a.index != nil {
		return a.index, nil
	}
	if !ref.HasSequences() {
		return nil, fmt.Errorf("reference %s has no sequence: %w", ref.Path, errs.ErrInvalidParam)
	}
	tree, length, err := BuildContigTree(ref)
	if err != nil {
		return nil, err
	}
	idx := &exactIndex{genome: make([]byte, 0, length), tree: tree, kmers: make(map[uint64][]int)}
	for i := 0; i < ref.Len(); i++ {
		seq, err := ref.Sequence(i)
		if err != nil {
			return nil, err
		}
		start := len(idx.genome)
		idx.genome = append(idx.genome, seq...)
		for p := 0; p+a.seedLength <= len(seq); p++ {
			if k, ok := encodeKmer(seq[p : p+a.seedLength]); ok {
				idx.kmers[k] = append(idx.kmers[k], start+p)
			}
		}
	}
	a.ref, a.index = ref, idx
	return idx, nil
}

type hit struct {
	contig     *reference.Contig
	pos        int // 1-based
	reverse    bool
	mismatches int
	score      int
	md         string
}

// AlignReads aligns the reads of b with opts.NThreads workers.
func (a *Exact) AlignReads(ctx context.Context, ref *reference.Reference, b *batch.Batch) error {
	if ref == nil || b == nil {
		return fmt.Errorf("no reference or batch: %w", errs.ErrInvalidParam)
	}
	idx, err := a.loadIndex(ref)
	if err != nil {
		return err
	}
	nFrag := b.NFragments()
	nWorker := a.opts.NThreads
	if nWorker > nFrag {
		nWorker = nFrag
	}
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < nWorker; w++ {
		w := w
		g.Go(func() error {
			for i := w; i < nFrag; i += nWorker {
				if err := gctx.Err(); err != nil {
					return err
				}
				frag, err := b.Fragment(i)
				if err != nil {
					return err
				}
				if err := a.alignFragment(idx, frag); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *Exact) alignFragment(idx *exactIndex, frag batch.Fragment) error {
	reads := frag.Reads()
	for reads.HasNext() {
		r, err := reads.Next()
		if err != nil {
			return err
		}
		a.alignRead(idx, r)
	}
	if frag.Len() > 1 {
		return a.pairFragment(frag)
	}
	return nil
}

func (a *Exact) alignRead(idx *exactIndex, r *batch.Read) {
	r.ClearAlignments()
	var hits []hit
	seen := make(map[int]bool)
	for _, reverse := range []bool{false, true} {
		seq := r.Seq
		if reverse {
			seq = esam.ReverseComplement(r.Seq)
		}
		for k := range seen {
			delete(seen, k)
		}
		for o := 0; o+a.seedLength <= len(seq); o += a.seedLength {
			kmer, ok := encodeKmer(seq[o : o+a.seedLength])
			if !ok {
				continue
			}
			occ := idx.kmers[kmer]
			if len(occ) > a.maxOccurrences {
				continue
			}
			for _, p := range occ {
				start := p - o
				if start < 0 || seen[start] {
					continue
				}
				seen[start] = true
				if h, ok := a.extend(idx, seq, start, reverse); ok {
					hits = append(hits, h)
				}
			}
		}
	}
	if len(hits) == 0 {
		return
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].contig.ID != hits[j].contig.ID {
			return hits[i].contig.ID < hits[j].contig.ID
		}
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return !hits[i].reverse
	})
	best := hits[0]
	mapq := mapqMax
	if len(hits) > 1 {
		second := hits[1].score
		if second < 0 {
			second = 0
		}
		if best.score <= 0 {
			mapq = 0
		} else {
			mapq = mapqMax * (best.score - second) / best.score
		}
	}
	if uint8(mapq) < a.opts.MapqMin {
		return
	}
	for i, h := range hits {
		if i > a.maxSecondary {
			break
		}
		aln := align.Alignment{
			Contig:     h.contig,
			Pos:        h.pos,
			Cigar:      []cigar.AlignOp{cigar.MustAlignOp(cigar.Match, len(r.Seq))},
			Score:      h.score,
			Flags:      align.Mapped,
			Mismatches: uint8(min(h.mismatches, 255)),
			Tags:       []align.Tag{{Key: "MD", Value: align.TextValue(h.md)}},
		}
		if h.reverse {
			aln.Flags |= align.ReverseStrand
		}
		if i == 0 {
			aln.MapQ = uint8(mapq)
			if len(hits) > 1 {
				aln.SetTag("XS", align.IntValue(int64(hits[1].score)))
			}
		} else {
			aln.Flags |= align.Secondary
		}
		r.AddAlignment(aln)
	}
}

// extend compares seq with the reference at offset start of the concatenated reference.
func (a *Exact) extend(idx *exactIndex, seq []byte, start int, reverse bool) (hit, bool) {
	iv, ok := findContig(idx.tree, start)
	if !ok || start+len(seq) > iv.End {
		return hit{}, false
	}
	var md strings.Builder
	var mm, run int
	for i, nt := range seq {
		r := idx.genome[start+i]
		if nt2[nt] >= 0 && nt2[nt] == nt2[r] {
			run++
			continue
		}
		mm++
		if mm > a.maxMismatches {
			return hit{}, false
		}
		md.WriteString(strconv.Itoa(run))
		md.WriteByte(r)
		run = 0
	}
	md.WriteString(strconv.Itoa(run))
	return hit{
		contig:     iv.Contig,
		pos:        start - iv.Start + 1,
		reverse:    reverse,
		mismatches: mm,
		score:      len(seq) - mm - mismatchPenalty*mm,
		md:         md.String(),
	}, true
}

// pairFragment sets the pair flags of the primary alignments of frag.
func (a *Exact) pairFragment(frag batch.Fragment) error {
	var prims []*align.Alignment
	for i := 0; i < frag.Len(); i++ {
		r, err := frag.Get(i)
		if err != nil {
			return err
		}
		for j := range r.Alns {
			r.Alns[j].Flags |= align.Paired
		}
		prims = append(prims, r.Primary())
	}
	if len(prims) != 2 || prims[0] == nil || prims[1] == nil {
		return nil
	}
	p0, p1 := prims[0], prims[1]
	if !align.SameContig(p0, p1) || p0.IsReverse() == p1.IsReverse() {
		return nil
	}
	isize := align.InsertSize(p0, p1)
	if isize < 0 {
		isize = -isize
	}
	if isize >= int64(a.opts.IsizeMin) && isize <= int64(a.opts.IsizeMax) {
		p0.Flags |= align.ProperPaired
		p1.Flags |= align.ProperPaired
	}
	return nil
}

func min(a, b int) int {
	if a > b {
		return b
	}
	return a
}

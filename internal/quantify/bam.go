package quantify

import (
	"fmt"
	"os"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"go.uber.org/zap"
)

// StrandPolicy decides whether an aligned read is consistent with a
// transcript on the given strand. No policy ships with the package:
// protocol-orientation filtering for stranded libraries is declared but
// not implemented, so by default every read passes regardless of
// library strandedness.
type StrandPolicy func(rec *sam.Record, transcriptStrand string) bool

// BAMSource is a ReadSource backed by a coordinate-sorted, indexed BAM
// file. The handle is owned by exactly one quantifier instance and must
// be released with Close.
type BAMSource struct {
	f       *os.File
	br      *bam.Reader
	idx     *bam.Index
	refs    map[string]*sam.Reference
	minMapQ byte
	policy  StrandPolicy
	logger  *zap.Logger
}

// DefaultMinMapQ keeps near-unique alignments only. 255 is the unique
// mapping quality emitted by STAR; HISAT2 callers should lower it to 60.
const DefaultMinMapQ = 255

// OpenBAM opens path and its .bai index for region queries. A missing
// BAM or index file is a configuration error.
func OpenBAM(path string) (*BAMSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open BAM file: %w", err)
	}

	br, err := bam.NewReader(f, 1)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read BAM header: %w", err)
	}

	idxPath := path + ".bai"
	idxF, err := os.Open(idxPath)
	if err != nil {
		br.Close()
		f.Close()
		return nil, fmt.Errorf("open BAM index %s (run samtools index first): %w", idxPath, err)
	}
	defer idxF.Close()

	idx, err := bam.ReadIndex(idxF)
	if err != nil {
		br.Close()
		f.Close()
		return nil, fmt.Errorf("read BAM index: %w", err)
	}

	refs := make(map[string]*sam.Reference)
	for _, ref := range br.Header().Refs() {
		refs[ref.Name()] = ref
	}

	return &BAMSource{
		f:       f,
		br:      br,
		idx:     idx,
		refs:    refs,
		minMapQ: DefaultMinMapQ,
		logger:  zap.NewNop(),
	}, nil
}

// SetLogger sets the logger for per-region diagnostics.
func (s *BAMSource) SetLogger(l *zap.Logger) {
	s.logger = l
}

// SetMinMapQ overrides the minimum mapping quality used by Count.
func (s *BAMSource) SetMinMapQ(q byte) {
	s.minMapQ = q
}

// SetStrandPolicy installs a read/transcript strand-consistency policy
// for Count. A nil policy accepts every read.
func (s *BAMSource) SetStrandPolicy(p StrandPolicy) {
	s.policy = p
}

// Close releases the BAM handle.
func (s *BAMSource) Close() error {
	if err := s.br.Close(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// Count returns the number of reads overlapping [start, end) on contig
// that pass the mapping-quality and strand filters. A contig absent
// from the BAM header or index yields 0, not an error.
func (s *BAMSource) Count(contig string, start, end int, strand string) (int, error) {
	n := 0
	err := s.each(contig, start, end, func(rec *sam.Record) {
		if countable(rec, s.minMapQ) && (s.policy == nil || s.policy(rec, strand)) {
			n++
		}
	})
	return n, err
}

// Depth returns per-base read depth over [start, end) on contig,
// derived from reference-consuming aligned CIGAR segments of primary,
// non-duplicate reads. An unknown contig yields an all-zero profile.
func (s *BAMSource) Depth(contig string, start, end int) ([]int, error) {
	if end <= start {
		return nil, fmt.Errorf("malformed region %s:%d-%d", contig, start, end)
	}
	depth := make([]int, end-start)
	err := s.each(contig, start, end, func(rec *sam.Record) {
		if pileable(rec) {
			addDepth(depth, rec, start)
		}
	})
	return depth, err
}

// each applies fn to every record whose alignment overlaps the region.
// Unknown contigs and regions without index entries are silently empty.
func (s *BAMSource) each(contig string, start, end int, fn func(rec *sam.Record)) error {
	ref, ok := s.refs[contig]
	if !ok {
		s.logger.Debug("contig not present in BAM", zap.String("contig", contig))
		return nil
	}

	chunks, err := s.idx.Chunks(ref, start, end)
	if err != nil {
		// The index has no entries covering this reference region.
		s.logger.Debug("no index chunks for region",
			zap.String("contig", contig), zap.Int("start", start), zap.Int("end", end))
		return nil
	}

	it, err := bam.NewIterator(s.br, chunks)
	if err != nil {
		return fmt.Errorf("iterate %s:%d-%d: %w", contig, start, end, err)
	}
	for it.Next() {
		rec := it.Record()
		// Bins overshoot; re-check the actual alignment span.
		if rec.Start() >= end || rec.End() <= start {
			continue
		}
		fn(rec)
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("iterate %s:%d-%d: %w", contig, start, end, err)
	}
	return nil
}

// countable reports whether a read passes the counting filters.
func countable(rec *sam.Record, minMapQ byte) bool {
	if rec.Flags&sam.Unmapped != 0 {
		return false
	}
	return rec.MapQ >= minMapQ
}

// pileable reports whether a read contributes to pileup depth.
func pileable(rec *sam.Record) bool {
	const skip = sam.Unmapped | sam.Secondary | sam.Duplicate | sam.QCFail
	return rec.Flags&skip == 0
}

// addDepth accumulates the read's reference-consuming segments into a
// depth profile anchored at regionStart. Skipped regions (CIGAR N,
// spliced introns) contribute nothing.
func addDepth(depth []int, rec *sam.Record, regionStart int) {
	pos := rec.Start()
	for _, co := range rec.Cigar {
		t := co.Type()
		if t.Consumes().Reference != 1 {
			continue
		}
		if t != sam.CigarSkipped {
			lo := pos - regionStart
			hi := lo + co.Len()
			if lo < 0 {
				lo = 0
			}
			if hi > len(depth) {
				hi = len(depth)
			}
			for i := lo; i < hi; i++ {
				depth[i]++
			}
		}
		pos += co.Len()
	}
}

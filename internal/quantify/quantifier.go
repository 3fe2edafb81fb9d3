// Package quantify computes per-transcript expression from aligned
// sequencing reads: raw counts, coverage, TPM/FPKM, gene-level
// aggregates and isoform fractions.
package quantify

import (
	"go.uber.org/zap"

	"github.com/fragseq/teprof/internal/gtf"
)

// ReadSource provides random-access region queries over an aligned-read
// store. Implementations must treat unknown contigs as empty regions,
// never as failures. Close releases the underlying handle and must be
// called exactly once at the end of the owning quantifier's scope.
type ReadSource interface {
	Count(contig string, start, end int, strand string) (int, error)
	Depth(contig string, start, end int) ([]int, error)
	Close() error
}

// Record is the expression result for one transcript.
type Record struct {
	TranscriptID  string
	GeneID        string
	GeneName      string
	Contig        string
	Start         int
	End           int
	Strand        string
	Length        int
	Count         int
	Coverage      float64
	TPM           float64
	FPKM          float64
	CountFraction float64
	TPMFraction   float64
}

// GeneRecord is expression aggregated over one gene's transcripts.
type GeneRecord struct {
	GeneID    string
	GeneName  string
	Count     int
	TPM       float64
	FPKM      float64
	MaxLength int
}

// Quantifier computes expression records from a read source.
type Quantifier struct {
	src    ReadSource
	logger *zap.Logger
}

// New creates a quantifier over src. The quantifier does not take
// ownership of closing src.
func New(src ReadSource) *Quantifier {
	return &Quantifier{src: src, logger: zap.NewNop()}
}

// SetLogger sets the logger for per-transcript warnings.
func (q *Quantifier) SetLogger(l *zap.Logger) {
	q.logger = l
}

// CountReads counts filtered reads overlapping the transcript span.
func (q *Quantifier) CountReads(t *gtf.Transcript) (int, error) {
	return q.src.Count(t.Contig, t.Start, t.End, t.Strand)
}

// Coverage returns the mean read depth over the covered positions of
// the transcript span, 0.0 when no base is covered.
func (q *Quantifier) Coverage(t *gtf.Transcript) (float64, error) {
	depth, err := q.src.Depth(t.Contig, t.Start, t.End)
	if err != nil {
		return 0, err
	}
	sum, covered := 0, 0
	for _, d := range depth {
		if d > 0 {
			sum += d
			covered++
		}
	}
	if covered == 0 {
		return 0, nil
	}
	return float64(sum) / float64(covered), nil
}

// QuantifyAll counts and normalizes every transcript. A transcript
// whose counting or coverage fails yields a zero-valued record and the
// run continues. Normalization runs once, after every raw count is in:
// both TPM and FPKM denominators are run-wide sums.
func (q *Quantifier) QuantifyAll(transcripts []*gtf.Transcript) []*Record {
	records := make([]*Record, 0, len(transcripts))
	for _, t := range transcripts {
		rec := &Record{
			TranscriptID: t.ID,
			GeneID:       t.GeneID,
			GeneName:     t.GeneName,
			Contig:       t.Contig,
			Start:        t.Start,
			End:          t.End,
			Strand:       t.Strand,
			Length:       t.Length,
		}

		count, err := q.CountReads(t)
		if err == nil {
			rec.Count = count
			rec.Coverage, err = q.Coverage(t)
		}
		if err != nil {
			q.logger.Warn("failed to quantify transcript; recording zeros",
				zap.String("transcript", t.ID),
				zap.String("contig", t.Contig),
				zap.Error(err))
			rec.Count = 0
			rec.Coverage = 0
		}
		records = append(records, rec)
	}

	normalize(records)
	return records
}

// normalize fills TPM and FPKM in place.
//
// RPK = count / (length in kb); TPM = RPK / sum(RPK) * 1e6;
// FPKM = RPK / (total count / 1e6). Zero denominators give all-zero
// results rather than dividing.
func normalize(records []*Record) {
	rpk := make([]float64, len(records))
	var rpkSum float64
	var totalCount int
	for i, rec := range records {
		if rec.Length > 0 {
			rpk[i] = float64(rec.Count) / (float64(rec.Length) / 1000.0)
		}
		rpkSum += rpk[i]
		totalCount += rec.Count
	}

	for i, rec := range records {
		if rpkSum > 0 {
			rec.TPM = rpk[i] / rpkSum * 1e6
		}
		if totalCount > 0 {
			rec.FPKM = rpk[i] / (float64(totalCount) / 1e6)
		}
	}
}

// AggregateToGene sums transcript records into gene records, grouped by
// (gene id, gene name), in first-seen order. The longest transcript
// length represents the gene.
func AggregateToGene(records []*Record) []*GeneRecord {
	byGene := make(map[[2]string]*GeneRecord)
	var order [][2]string

	for _, rec := range records {
		key := [2]string{rec.GeneID, rec.GeneName}
		g, ok := byGene[key]
		if !ok {
			g = &GeneRecord{GeneID: rec.GeneID, GeneName: rec.GeneName}
			byGene[key] = g
			order = append(order, key)
		}
		g.Count += rec.Count
		g.TPM += rec.TPM
		g.FPKM += rec.FPKM
		if rec.Length > g.MaxLength {
			g.MaxLength = rec.Length
		}
	}

	genes := make([]*GeneRecord, len(order))
	for i, key := range order {
		genes[i] = byGene[key]
	}
	return genes
}

// TranscriptFractions fills each record's share of its gene's total
// count and TPM, grouped by gene id. Genes with zero totals give zero
// fractions; division by zero never happens. Returns the same slice.
func TranscriptFractions(records []*Record) []*Record {
	type total struct {
		count int
		tpm   float64
	}
	totals := make(map[string]total)
	for _, rec := range records {
		t := totals[rec.GeneID]
		t.count += rec.Count
		t.tpm += rec.TPM
		totals[rec.GeneID] = t
	}

	for _, rec := range records {
		t := totals[rec.GeneID]
		if t.count > 0 {
			rec.CountFraction = float64(rec.Count) / float64(t.count)
		} else {
			rec.CountFraction = 0
		}
		if t.tpm > 0 {
			rec.TPMFraction = rec.TPM / t.tpm
		} else {
			rec.TPMFraction = 0
		}
	}
	return records
}

// Package annotate marks assembled transcripts with transposable
// element overlap information.
package annotate

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fragseq/teprof/internal/genome"
	"github.com/fragseq/teprof/internal/gtf"
)

// DefaultPromoterWindow is the upstream window, in bases, scanned for
// promoter TEs.
const DefaultPromoterWindow = 2000

// NoOverlap is written to the TE-names column when a transcript
// overlaps no TE.
const NoOverlap = "None"

// Record is the annotation produced for one transcript.
type Record struct {
	TranscriptID  string
	GeneID        string
	GeneName      string
	Contig        string
	Start         int
	End           int
	Strand        string
	OverlapCount  int
	OverlapNames  string
	HasTEPromoter bool
}

// Annotator annotates transcripts against a TE interval index.
type Annotator struct {
	tes    *genome.Index
	genes  *genome.Index
	focus  map[string]struct{}
	window int
	logger *zap.Logger
}

// New creates an annotator over a TE-loaded index.
func New(tes *genome.Index) *Annotator {
	return &Annotator{
		tes:    tes,
		window: DefaultPromoterWindow,
		logger: zap.NewNop(),
	}
}

// SetLogger sets the logger for warning and info messages.
func (a *Annotator) SetLogger(l *zap.Logger) {
	a.logger = l
}

// SetPromoterWindow overrides the upstream promoter window size.
func (a *Annotator) SetPromoterWindow(w int) {
	if w > 0 {
		a.window = w
	}
}

// SetGeneModels attaches an optional gene-model index. An empty index
// is a valid degraded state when the dictionary failed to load.
func (a *Annotator) SetGeneModels(ix *genome.Index) {
	a.genes = ix
}

// GeneModels returns the attached gene-model index, or an empty index
// when none was set.
func (a *Annotator) GeneModels() *genome.Index {
	if a.genes == nil {
		return genome.NewIndex()
	}
	return a.genes
}

// SetFocusGenes restricts AnnotateAll output to transcripts whose gene
// name appears in names. An empty list disables the filter.
func (a *Annotator) SetFocusGenes(names []string) {
	if len(names) == 0 {
		a.focus = nil
		return
	}
	a.focus = make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			a.focus[n] = struct{}{}
		}
	}
}

// Annotate produces the annotation record for one transcript. A contig
// absent from the TE index yields zero overlaps and no promoter hit,
// not an error.
func (a *Annotator) Annotate(t *gtf.Transcript) (*Record, error) {
	if t.Start < 0 || t.End <= t.Start {
		return nil, fmt.Errorf("transcript %s has degenerate span %s:%d-%d",
			t.ID, t.Contig, t.Start, t.End)
	}

	overlaps := a.tes.QueryOverlap(t.Contig, t.Start, t.End, t.Strand)

	names := NoOverlap
	if len(overlaps) > 0 {
		parts := make([]string, len(overlaps))
		for i, te := range overlaps {
			parts[i] = te.Label
		}
		names = strings.Join(parts, ",")
	}

	geneName := t.GeneName
	if geneName == gtf.MissingAttr {
		geneName = a.resolveGeneName(t)
	}

	return &Record{
		TranscriptID:  t.ID,
		GeneID:        t.GeneID,
		GeneName:      geneName,
		Contig:        t.Contig,
		Start:         t.Start,
		End:           t.End,
		Strand:        t.Strand,
		OverlapCount:  len(overlaps),
		OverlapNames:  names,
		HasTEPromoter: a.PromoterHasTE(t.Contig, t.Start, t.Strand, a.window),
	}, nil
}

// resolveGeneName looks the transcript up in the gene-model index and
// returns the name of the model with the largest overlap. Assembled
// transcripts often run antisense to their gene, so the lookup ignores
// strand. Returns the missing-attribute sentinel when nothing matches.
func (a *Annotator) resolveGeneName(t *gtf.Transcript) string {
	if a.genes == nil {
		return gtf.MissingAttr
	}
	span := genome.Interval{Contig: t.Contig, Start: t.Start, End: t.End, Strand: genome.StrandNone}
	best := gtf.MissingAttr
	bestOverlap := 0
	for _, g := range a.genes.QueryOverlap(t.Contig, t.Start, t.End, "") {
		name := g.Metadata["gene_name"]
		if name == "" || name == gtf.MissingAttr {
			name = g.Label
		}
		if name == "" {
			continue
		}
		if ov := g.OverlapLength(&span); ov > bestOverlap {
			best = name
			bestOverlap = ov
		}
	}
	return best
}

// PromoterHasTE reports whether a same-strand TE overlaps the promoter
// region of a transcription start site. The region is [tss-window, tss)
// on the plus strand, clamped at zero, and [tss, tss+window) otherwise.
func (a *Annotator) PromoterHasTE(contig string, tss int, strand string, window int) bool {
	var start, end int
	if strand == genome.StrandPlus {
		start = tss - window
		if start < 0 {
			start = 0
		}
		end = tss
	} else {
		start = tss
		end = tss + window
	}
	return len(a.tes.QueryOverlap(contig, start, end, strand)) > 0
}

// AnnotateAll annotates every transcript, in input order. A transcript
// that fails to annotate is logged and skipped; the batch continues.
// When a focus-gene list is set, transcripts outside it are dropped.
func (a *Annotator) AnnotateAll(transcripts []*gtf.Transcript) []*Record {
	records := make([]*Record, 0, len(transcripts))
	for _, t := range transcripts {
		rec, err := a.Annotate(t)
		if err != nil {
			a.logger.Warn("failed to annotate transcript",
				zap.String("transcript", t.ID),
				zap.String("contig", t.Contig),
				zap.Error(err))
			continue
		}
		if a.focus != nil {
			if _, ok := a.focus[rec.GeneName]; !ok {
				continue
			}
		}
		records = append(records, rec)
	}
	return records
}

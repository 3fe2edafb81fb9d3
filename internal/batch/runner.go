// Package batch runs the annotate and quantify pipeline over a cohort
// of samples with a worker pool. One failed sample does not stop the
// rest of the batch.
package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fragseq/teprof/internal/annotate"
	"github.com/fragseq/teprof/internal/genome"
	"github.com/fragseq/teprof/internal/gtf"
	"github.com/fragseq/teprof/internal/output"
	"github.com/fragseq/teprof/internal/quantify"
)

// Sample is one row of the sample sheet. GTF may be empty, in which
// case the run-level GTF is used.
type Sample struct {
	ID  string
	BAM string
	GTF string
}

// Summary records per-sample pipeline outcomes. It is written as
// <id>_summary.json in the sample's output directory.
type Summary struct {
	SampleID                  string  `json:"sample_id"`
	BAMFile                   string  `json:"bam_file"`
	GTFFile                   string  `json:"gtf_file"`
	TotalTranscripts          int     `json:"total_transcripts"`
	TranscriptsWithTE         int     `json:"transcripts_with_te"`
	TranscriptsWithTEPromoter int     `json:"transcripts_with_te_promoter"`
	TEPromoterPercentage      float64 `json:"te_promoter_percentage"`
	ExpressedTranscripts      int     `json:"expressed_transcripts"`
	TotalReads                int     `json:"total_reads"`
	MedianTPM                 float64 `json:"median_tpm"`
	TEPromoterExpressed       int     `json:"te_promoter_expressed"`
	TEPromoterMeanTPM         float64 `json:"te_promoter_mean_tpm"`
	Status                    string  `json:"status"`
	Error                     string  `json:"error,omitempty"`
}

// Config holds the shared inputs for a batch run.
type Config struct {
	TEs            *genome.Index
	GeneModels     *genome.Index
	GTF            string
	OutDir         string
	Workers        int
	PromoterWindow int
	MinMapQ        byte
	Fractions      bool
}

// Runner executes the per-sample pipeline.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// NewRunner creates a batch runner.
func NewRunner(cfg Config) *Runner {
	if cfg.PromoterWindow <= 0 {
		cfg.PromoterWindow = annotate.DefaultPromoterWindow
	}
	return &Runner{cfg: cfg, logger: zap.NewNop()}
}

// SetLogger sets the logger used for progress and warnings.
func (r *Runner) SetLogger(l *zap.Logger) {
	if l != nil {
		r.logger = l
	}
}

// ReadSampleSheet parses a tab-separated sample sheet with columns
// sample_id, bam and an optional third gtf column. Comment lines and a
// header row are skipped.
func ReadSampleSheet(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sample sheet: %w", err)
	}
	defer f.Close()

	var samples []Sample
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if fields[0] == "sample_id" {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("sample sheet line %q: need at least sample_id and bam", line)
		}
		s := Sample{ID: fields[0], BAM: fields[1]}
		if len(fields) > 2 {
			s.GTF = fields[2]
		}
		if s.ID == "" || s.BAM == "" {
			return nil, fmt.Errorf("sample sheet line %q: empty sample_id or bam", line)
		}
		samples = append(samples, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading sample sheet: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("sample sheet %s: no samples", path)
	}
	return samples, nil
}

type workItem struct {
	seq    int
	sample Sample
}

// Run processes all samples using a worker pool and returns one summary
// per sample, in sample-sheet order. Failed samples get a summary with
// status "failed" and the error message; Run itself only fails on setup
// errors.
func (r *Runner) Run(samples []Sample) ([]*Summary, error) {
	if err := os.MkdirAll(r.cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	workers := r.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(samples) {
		workers = len(samples)
	}

	items := make(chan workItem, len(samples))
	for i, s := range samples {
		items <- workItem{seq: i, sample: s}
	}
	close(items)

	summaries := make([]*Summary, len(samples))
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for item := range items {
				summaries[item.seq] = r.runSample(item.sample)
			}
		}()
	}
	wg.Wait()

	failed := 0
	for _, s := range summaries {
		if s.Status != "success" {
			failed++
		}
	}
	r.logger.Info("batch complete",
		zap.Int("samples", len(samples)),
		zap.Int("failed", failed))
	return summaries, nil
}

func (r *Runner) runSample(s Sample) *Summary {
	gtfPath := s.GTF
	if gtfPath == "" {
		gtfPath = r.cfg.GTF
	}
	sum := &Summary{SampleID: s.ID, BAMFile: s.BAM, GTFFile: gtfPath, Status: "success"}

	fail := func(err error) *Summary {
		sum.Status = "failed"
		sum.Error = err.Error()
		r.logger.Warn("sample failed",
			zap.String("sample", s.ID),
			zap.Error(err))
		return sum
	}

	sampleDir := filepath.Join(r.cfg.OutDir, s.ID)
	if err := os.MkdirAll(sampleDir, 0o755); err != nil {
		return fail(fmt.Errorf("creating sample dir: %w", err))
	}

	r.logger.Info("processing sample",
		zap.String("sample", s.ID),
		zap.String("bam", s.BAM))

	reader := gtf.NewReader(gtfPath)
	reader.SetLogger(r.logger)
	transcripts, err := reader.ReadTranscripts()
	if err != nil {
		return fail(err)
	}
	sum.TotalTranscripts = len(transcripts)

	ann := annotate.New(r.cfg.TEs)
	ann.SetLogger(r.logger)
	ann.SetPromoterWindow(r.cfg.PromoterWindow)
	if r.cfg.GeneModels != nil {
		ann.SetGeneModels(r.cfg.GeneModels)
	}
	annRecs := ann.AnnotateAll(transcripts)

	src, err := quantify.OpenBAM(s.BAM)
	if err != nil {
		return fail(err)
	}
	defer src.Close()
	src.SetLogger(r.logger)
	src.SetMinMapQ(r.cfg.MinMapQ)

	q := quantify.New(src)
	q.SetLogger(r.logger)
	exprRecs := q.QuantifyAll(transcripts)
	if r.cfg.Fractions {
		quantify.TranscriptFractions(exprRecs)
	}
	geneRecs := quantify.AggregateToGene(exprRecs)

	if err := writeAnnotation(filepath.Join(sampleDir, s.ID+"_annotated.tsv"), annRecs); err != nil {
		return fail(err)
	}
	if err := writeExpression(filepath.Join(sampleDir, s.ID+"_expression.tsv"), exprRecs, r.cfg.Fractions); err != nil {
		return fail(err)
	}
	if err := writeGenes(filepath.Join(sampleDir, s.ID+"_gene_expression.tsv"), geneRecs); err != nil {
		return fail(err)
	}
	if err := writeTEPromoter(filepath.Join(sampleDir, s.ID+"_te_promoter_expression.tsv"), annRecs, exprRecs); err != nil {
		return fail(err)
	}

	fillSummary(sum, annRecs, exprRecs)
	if err := writeSummaryJSON(filepath.Join(sampleDir, s.ID+"_summary.json"), sum); err != nil {
		return fail(err)
	}
	return sum
}

func fillSummary(sum *Summary, annRecs []*annotate.Record, exprRecs []*quantify.Record) {
	promoter := make(map[string]bool, len(annRecs))
	for _, a := range annRecs {
		if a.OverlapCount > 0 {
			sum.TranscriptsWithTE++
		}
		if a.HasTEPromoter {
			sum.TranscriptsWithTEPromoter++
			promoter[a.TranscriptID] = true
		}
	}
	if sum.TotalTranscripts > 0 {
		sum.TEPromoterPercentage = 100 * float64(sum.TranscriptsWithTEPromoter) / float64(sum.TotalTranscripts)
	}

	var nonzero []float64
	var promTPM float64
	var promN int
	for _, e := range exprRecs {
		sum.TotalReads += e.Count
		if e.Count > 0 {
			sum.ExpressedTranscripts++
		}
		if e.TPM > 0 {
			nonzero = append(nonzero, e.TPM)
		}
		if promoter[e.TranscriptID] {
			promTPM += e.TPM
			promN++
			if e.Count > 0 {
				sum.TEPromoterExpressed++
			}
		}
	}
	sum.MedianTPM = median(nonzero)
	if promN > 0 {
		sum.TEPromoterMeanTPM = promTPM / float64(promN)
	}
}

// median of the given values; 0 for an empty slice. The input is sorted
// in place.
func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sort.Float64s(v)
	mid := len(v) / 2
	if len(v)%2 == 1 {
		return v[mid]
	}
	return (v[mid-1] + v[mid]) / 2
}

func writeAnnotation(path string, recs []*annotate.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	w := output.NewAnnotationWriter(f)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeExpression(path string, recs []*quantify.Record, fractions bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	w := output.NewExpressionWriter(f, fractions)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeGenes(path string, recs []*quantify.GeneRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	w := output.NewGeneWriter(f)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return w.Flush()
}

// writeTEPromoter writes the joined table of TE-promoter transcripts
// with their expression values.
func writeTEPromoter(path string, annRecs []*annotate.Record, exprRecs []*quantify.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	expr := make(map[string]*quantify.Record, len(exprRecs))
	for _, e := range exprRecs {
		expr[e.TranscriptID] = e
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString("transcript_id\tgene_id\tgene_name\tcontig\tstart\tend\tstrand\tte_names\tcount\ttpm\tfpkm\n"); err != nil {
		return err
	}
	for _, a := range annRecs {
		if !a.HasTEPromoter {
			continue
		}
		var count int
		var tpm, fpkm float64
		if e, ok := expr[a.TranscriptID]; ok {
			count, tpm, fpkm = e.Count, e.TPM, e.FPKM
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%d\t%s\t%s\n",
			a.TranscriptID, a.GeneID, a.GeneName, a.Contig, a.Start, a.End, a.Strand,
			a.OverlapNames, count,
			strconv.FormatFloat(tpm, 'g', 6, 64),
			strconv.FormatFloat(fpkm, 'g', 6, 64)); err != nil {
			return err
		}
	}
	return w.Flush()
}

func writeSummaryJSON(path string, sum *Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// WriteBatchSummary writes the cohort-level TSV with one row per sample.
func WriteBatchSummary(w io.Writer, sums []*Summary) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("sample_id\tstatus\ttotal_transcripts\ttranscripts_with_te\ttranscripts_with_te_promoter\tte_promoter_percentage\texpressed_transcripts\ttotal_reads\tmedian_tpm\tte_promoter_expressed\tte_promoter_mean_tpm\terror\n"); err != nil {
		return err
	}
	for _, s := range sums {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%d\t%d\t%d\t%s\t%d\t%d\t%s\t%d\t%s\t%s\n",
			s.SampleID, s.Status,
			s.TotalTranscripts, s.TranscriptsWithTE, s.TranscriptsWithTEPromoter,
			strconv.FormatFloat(s.TEPromoterPercentage, 'g', 6, 64),
			s.ExpressedTranscripts, s.TotalReads,
			strconv.FormatFloat(s.MedianTPM, 'g', 6, 64),
			s.TEPromoterExpressed,
			strconv.FormatFloat(s.TEPromoterMeanTPM, 'g', 6, 64),
			s.Error); err != nil {
			return err
		}
	}
	return bw.Flush()
}

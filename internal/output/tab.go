// Package output provides tab-delimited writers for annotation and
// expression records.
package output

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fragseq/teprof/internal/annotate"
	"github.com/fragseq/teprof/internal/quantify"
)

// AnnotationWriter writes TE annotation records as TSV.
type AnnotationWriter struct {
	w       *bufio.Writer
	columns []string
}

// NewAnnotationWriter creates an annotation TSV writer.
func NewAnnotationWriter(w io.Writer) *AnnotationWriter {
	return &AnnotationWriter{
		w: bufio.NewWriter(w),
		columns: []string{
			"transcript_id",
			"gene_id",
			"gene_name",
			"contig",
			"start",
			"end",
			"strand",
			"n_te_overlaps",
			"te_names",
			"has_te_promoter",
		},
	}
}

// WriteHeader writes the column header line.
func (aw *AnnotationWriter) WriteHeader() error {
	_, err := aw.w.WriteString(strings.Join(aw.columns, "\t") + "\n")
	return err
}

// Write writes a single annotation record.
func (aw *AnnotationWriter) Write(rec *annotate.Record) error {
	_, err := fmt.Fprintf(aw.w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%d\t%s\t%s\n",
		rec.TranscriptID,
		rec.GeneID,
		rec.GeneName,
		rec.Contig,
		rec.Start,
		rec.End,
		rec.Strand,
		rec.OverlapCount,
		rec.OverlapNames,
		formatBool(rec.HasTEPromoter),
	)
	return err
}

// Flush flushes buffered output.
func (aw *AnnotationWriter) Flush() error {
	return aw.w.Flush()
}

// ExpressionWriter writes per-transcript expression records as TSV.
// Fraction columns are included when enabled.
type ExpressionWriter struct {
	w         *bufio.Writer
	fractions bool
}

// NewExpressionWriter creates an expression TSV writer. When fractions
// is true, count_fraction and tpm_fraction columns are emitted.
func NewExpressionWriter(w io.Writer, fractions bool) *ExpressionWriter {
	return &ExpressionWriter{w: bufio.NewWriter(w), fractions: fractions}
}

// WriteHeader writes the column header line.
func (ew *ExpressionWriter) WriteHeader() error {
	columns := []string{
		"transcript_id",
		"gene_id",
		"gene_name",
		"contig",
		"start",
		"end",
		"strand",
		"length",
		"count",
		"coverage",
		"tpm",
		"fpkm",
	}
	if ew.fractions {
		columns = append(columns, "count_fraction", "tpm_fraction")
	}
	_, err := ew.w.WriteString(strings.Join(columns, "\t") + "\n")
	return err
}

// Write writes a single expression record.
func (ew *ExpressionWriter) Write(rec *quantify.Record) error {
	_, err := fmt.Fprintf(ew.w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%d\t%d\t%s\t%s\t%s",
		rec.TranscriptID,
		rec.GeneID,
		rec.GeneName,
		rec.Contig,
		rec.Start,
		rec.End,
		rec.Strand,
		rec.Length,
		rec.Count,
		formatFloat(rec.Coverage),
		formatFloat(rec.TPM),
		formatFloat(rec.FPKM),
	)
	if err != nil {
		return err
	}
	if ew.fractions {
		if _, err := fmt.Fprintf(ew.w, "\t%s\t%s",
			formatFloat(rec.CountFraction), formatFloat(rec.TPMFraction)); err != nil {
			return err
		}
	}
	return ew.w.WriteByte('\n')
}

// Flush flushes buffered output.
func (ew *ExpressionWriter) Flush() error {
	return ew.w.Flush()
}

// GeneWriter writes gene-level expression records as TSV.
type GeneWriter struct {
	w *bufio.Writer
}

// NewGeneWriter creates a gene-level TSV writer.
func NewGeneWriter(w io.Writer) *GeneWriter {
	return &GeneWriter{w: bufio.NewWriter(w)}
}

// WriteHeader writes the column header line.
func (gw *GeneWriter) WriteHeader() error {
	_, err := gw.w.WriteString("gene_id\tgene_name\tcount\ttpm\tfpkm\tlength\n")
	return err
}

// Write writes a single gene record.
func (gw *GeneWriter) Write(rec *quantify.GeneRecord) error {
	_, err := fmt.Fprintf(gw.w, "%s\t%s\t%d\t%s\t%s\t%d\n",
		rec.GeneID,
		rec.GeneName,
		rec.Count,
		formatFloat(rec.TPM),
		formatFloat(rec.FPKM),
		rec.MaxLength,
	)
	return err
}

// Flush flushes buffered output.
func (gw *GeneWriter) Flush() error {
	return gw.w.Flush()
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

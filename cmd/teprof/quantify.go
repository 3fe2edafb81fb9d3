package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fragseq/teprof/internal/gtf"
	"github.com/fragseq/teprof/internal/output"
	"github.com/fragseq/teprof/internal/quantify"
)

func runQuantifyCmd(args []string) int {
	fs := flag.NewFlagSet("quantify", flag.ExitOnError)

	defaultMapQ := int(quantify.DefaultMinMapQ)
	if viper.IsSet("quantify.min_mapq") {
		defaultMapQ = viper.GetInt("quantify.min_mapq")
	}

	var (
		outputPrefix string
		minMapQ      int
		stranded     bool
		fractions    bool
		geneLevel    bool
		verbose      bool
	)

	fs.StringVar(&outputPrefix, "o", "", "Output file prefix (default: stdout, transcript table only)")
	fs.StringVar(&outputPrefix, "output", "", "Output file prefix (default: stdout, transcript table only)")
	fs.IntVar(&minMapQ, "min-mapq", defaultMapQ, "Minimum mapping quality (255 for STAR unique, 60 for HISAT2)")
	fs.BoolVar(&stranded, "stranded", false, "Count only reads matching the transcript strand")
	fs.BoolVar(&fractions, "fractions", false, "Add per-gene transcript fraction columns")
	fs.BoolVar(&geneLevel, "gene-level", false, "Also write gene-level expression (requires -o)")
	fs.BoolVar(&verbose, "verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Quantify transcript expression from a coordinate-sorted, indexed BAM file.

Counts, mean coverage, TPM and FPKM are reported per transcript.

Usage:
  teprof quantify [options] <alignments.bam> <assembly.gtf>

Arguments:
  <alignments.bam>  Coordinate-sorted BAM with a .bai index alongside
  <assembly.gtf>    StringTie or similar assembly GTF (optionally gzipped)

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  teprof quantify sample.bam assembly.gtf
  teprof quantify --min-mapq 60 sample.bam assembly.gtf
  teprof quantify --fractions --gene-level -o sample sample.bam assembly.gtf
`)
	}

	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	if fs.NArg() < 2 {
		fmt.Fprintf(os.Stderr, "Error: BAM and assembly GTF arguments required\n\n")
		fs.Usage()
		return ExitUsage
	}
	if minMapQ < 0 || minMapQ > 255 {
		fmt.Fprintf(os.Stderr, "Error: --min-mapq must be between 0 and 255\n")
		return ExitUsage
	}
	if geneLevel && outputPrefix == "" {
		fmt.Fprintf(os.Stderr, "Error: --gene-level requires -o\n")
		return ExitUsage
	}

	logger := newLogger(verbose)
	defer logger.Sync()

	if stranded {
		logger.Warn("stranded counting is not implemented, counting both strands")
	}

	bamPath := fs.Arg(0)
	gtfPath := fs.Arg(1)

	reader := gtf.NewReader(gtfPath)
	reader.SetLogger(logger)
	transcripts, err := reader.ReadTranscripts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading assembly GTF: %v\n", err)
		return ExitError
	}
	fmt.Fprintf(os.Stderr, "Loaded %d transcripts\n", len(transcripts))

	src, err := quantify.OpenBAM(bamPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening BAM: %v\n", err)
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Hint: The BAM needs a .bai index (samtools index)\n")
		}
		return ExitError
	}
	defer src.Close()
	src.SetLogger(logger)
	src.SetMinMapQ(byte(minMapQ))

	q := quantify.New(src)
	q.SetLogger(logger)
	records := q.QuantifyAll(transcripts)
	if fractions {
		quantify.TranscriptFractions(records)
	}

	var out *os.File
	if outputPrefix == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(outputPrefix + "_expression.tsv")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			return ExitError
		}
		defer out.Close()
	}

	w := output.NewExpressionWriter(out, fractions)
	if err := w.WriteHeader(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing header: %v\n", err)
		return ExitError
	}
	var expressed, totalReads int
	for _, rec := range records {
		totalReads += rec.Count
		if rec.Count > 0 {
			expressed++
		}
		if err := w.Write(rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing record: %v\n", err)
			return ExitError
		}
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing output: %v\n", err)
		return ExitError
	}

	if geneLevel {
		genes := quantify.AggregateToGene(records)
		gf, err := os.Create(outputPrefix + "_gene_expression.tsv")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating gene output file: %v\n", err)
			return ExitError
		}
		defer gf.Close()
		gw := output.NewGeneWriter(gf)
		if err := gw.WriteHeader(); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing gene header: %v\n", err)
			return ExitError
		}
		for _, rec := range genes {
			if err := gw.Write(rec); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing gene record: %v\n", err)
				return ExitError
			}
		}
		if err := gw.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "Error flushing gene output: %v\n", err)
			return ExitError
		}
		fmt.Fprintf(os.Stderr, "Wrote %d gene records\n", len(genes))
	}

	logger.Info("quantification complete",
		zap.Int("transcripts", len(records)),
		zap.Int("expressed", expressed),
		zap.Int("total_reads", totalReads))
	fmt.Fprintf(os.Stderr, "Quantified %d transcripts: %d expressed, %d reads counted\n",
		len(records), expressed, totalReads)

	return ExitSuccess
}

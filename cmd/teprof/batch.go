package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fragseq/teprof/internal/annotate"
	"github.com/fragseq/teprof/internal/batch"
	"github.com/fragseq/teprof/internal/genemodel"
	"github.com/fragseq/teprof/internal/genome"
	"github.com/fragseq/teprof/internal/quantify"
	"github.com/fragseq/teprof/internal/rmsk"
)

func runBatchCmd(args []string) int {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)

	var (
		rmskPath       string
		gtfPath        string
		geneModelsPath string
		outDir         string
		workers        int
		promoterWindow int
		minMapQ        int
		fractions      bool
		verbose        bool
	)

	fs.StringVar(&rmskPath, "rmsk", "", "RepeatMasker BED file of TE annotations (required)")
	fs.StringVar(&gtfPath, "gtf", "", "Assembly GTF shared by samples without a per-sample GTF")
	fs.StringVar(&geneModelsPath, "gene-models", "", "Gene-model DuckDB database (optional)")
	fs.StringVar(&outDir, "out", "teprof_results", "Output directory, one subdirectory per sample")
	fs.IntVar(&workers, "workers", 0, "Number of parallel samples (0 = number of CPUs)")
	fs.IntVar(&promoterWindow, "promoter-window", annotate.DefaultPromoterWindow, "Promoter window upstream of the TSS in bp")
	fs.IntVar(&minMapQ, "min-mapq", int(quantify.DefaultMinMapQ), "Minimum mapping quality")
	fs.BoolVar(&fractions, "fractions", false, "Add per-gene transcript fraction columns")
	fs.BoolVar(&verbose, "verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Run annotate and quantify over a cohort of samples.

The sample sheet is tab-separated with columns sample_id, bam and an
optional per-sample gtf. One failed sample does not stop the batch.

Usage:
  teprof batch [options] <samples.tsv>

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  teprof batch --rmsk repeats.bed --gtf assembly.gtf --out results samples.tsv
  teprof batch --rmsk repeats.bed --gtf assembly.gtf --workers 8 --fractions samples.tsv
`)
	}

	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: sample sheet argument required\n\n")
		fs.Usage()
		return ExitUsage
	}
	if rmskPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --rmsk is required\n\n")
		fs.Usage()
		return ExitUsage
	}
	if minMapQ < 0 || minMapQ > 255 {
		fmt.Fprintf(os.Stderr, "Error: --min-mapq must be between 0 and 255\n")
		return ExitUsage
	}

	logger := newLogger(verbose)
	defer logger.Sync()

	samples, err := batch.ReadSampleSheet(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	if gtfPath == "" {
		for _, s := range samples {
			if s.GTF == "" {
				fmt.Fprintf(os.Stderr, "Error: sample %s has no GTF and --gtf is not set\n", s.ID)
				return ExitUsage
			}
		}
	}
	fmt.Fprintf(os.Stderr, "Loaded %d samples\n", len(samples))

	tes := genome.NewIndex()
	tes.SetLogger(logger)
	loader := rmsk.NewLoader(rmskPath)
	loader.SetLogger(logger)
	n, err := loader.Load(tes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading TE annotations: %v\n", err)
		return ExitError
	}
	fmt.Fprintf(os.Stderr, "Loaded %d TE annotations on %d contigs\n", n, len(tes.Contigs()))

	var geneModels *genome.Index
	if geneModelsPath != "" {
		geneModels = genemodel.LoadOptional(geneModelsPath, logger)
	}

	runner := batch.NewRunner(batch.Config{
		TEs:            tes,
		GeneModels:     geneModels,
		GTF:            gtfPath,
		OutDir:         outDir,
		Workers:        workers,
		PromoterWindow: promoterWindow,
		MinMapQ:        byte(minMapQ),
		Fractions:      fractions,
	})
	runner.SetLogger(logger)

	summaries, err := runner.Run(samples)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}

	summaryPath := filepath.Join(outDir, "batch_summary.tsv")
	sf, err := os.Create(summaryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating batch summary: %v\n", err)
		return ExitError
	}
	defer sf.Close()
	if err := batch.WriteBatchSummary(sf, summaries); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing batch summary: %v\n", err)
		return ExitError
	}

	var failed int
	for _, s := range summaries {
		if s.Status != "success" {
			failed++
			fmt.Fprintf(os.Stderr, "Sample %s failed: %s\n", s.SampleID, s.Error)
		}
	}
	fmt.Fprintf(os.Stderr, "Batch complete: %d samples, %d failed\n", len(summaries), failed)
	fmt.Fprintf(os.Stderr, "Summary: %s\n", summaryPath)

	if failed == len(summaries) {
		return ExitError
	}
	return ExitSuccess
}

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fragseq/teprof/internal/annotate"
	"github.com/fragseq/teprof/internal/genemodel"
	"github.com/fragseq/teprof/internal/genome"
	"github.com/fragseq/teprof/internal/gtf"
	"github.com/fragseq/teprof/internal/output"
	"github.com/fragseq/teprof/internal/rmsk"
)

func runAnnotateCmd(args []string) int {
	fs := flag.NewFlagSet("annotate", flag.ExitOnError)

	defaultWindow := annotate.DefaultPromoterWindow
	if viper.IsSet("annotate.promoter_window") {
		defaultWindow = viper.GetInt("annotate.promoter_window")
	}

	var (
		rmskPath       string
		geneModelsPath string
		focusGenes     string
		focusFile      string
		promoterWindow int
		outputFile     string
		verbose        bool
	)

	fs.StringVar(&rmskPath, "rmsk", "", "RepeatMasker BED file of TE annotations (required)")
	fs.StringVar(&geneModelsPath, "gene-models", "", "Gene-model DuckDB database (optional, see 'teprof convert')")
	fs.StringVar(&focusGenes, "focus-genes", "", "Comma-separated gene names to restrict output to")
	fs.StringVar(&focusFile, "focus-file", "", "File with one gene name per line to restrict output to")
	fs.IntVar(&promoterWindow, "promoter-window", defaultWindow, "Promoter window upstream of the TSS in bp")
	fs.StringVar(&outputFile, "o", "", "Output file (default: stdout)")
	fs.StringVar(&outputFile, "output", "", "Output file (default: stdout)")
	fs.BoolVar(&verbose, "verbose", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Annotate assembled transcripts with TE overlaps and TE promoter status.

Usage:
  teprof annotate [options] <assembly.gtf>

Arguments:
  <assembly.gtf>  StringTie or similar assembly GTF (optionally gzipped)

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  teprof annotate --rmsk repeats.bed assembly.gtf
  teprof annotate --rmsk repeats.bed --gene-models genes.duckdb -o annotated.tsv assembly.gtf
  teprof annotate --rmsk repeats.bed --focus-genes CYP6,GST1 assembly.gtf
`)
	}

	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: assembly GTF argument required\n\n")
		fs.Usage()
		return ExitUsage
	}
	if rmskPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --rmsk is required\n\n")
		fs.Usage()
		return ExitUsage
	}

	logger := newLogger(verbose)
	defer logger.Sync()

	gtfPath := fs.Arg(0)

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

	reader := gtf.NewReader(gtfPath)
	reader.SetLogger(logger)
	transcripts, err := reader.ReadTranscripts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading assembly GTF: %v\n", err)
		return ExitError
	}
	fmt.Fprintf(os.Stderr, "Loaded %d transcripts\n", len(transcripts))

	ann := annotate.New(tes)
	ann.SetLogger(logger)
	ann.SetPromoterWindow(promoterWindow)
	if geneModelsPath != "" {
		ann.SetGeneModels(genemodel.LoadOptional(geneModelsPath, logger))
	}
	focus := []string{}
	if focusGenes != "" {
		focus = append(focus, strings.Split(focusGenes, ",")...)
	}
	if focusFile != "" {
		names, err := readFocusFile(focusFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading focus-gene file: %v\n", err)
			return ExitError
		}
		focus = append(focus, names...)
	}
	if len(focus) > 0 {
		ann.SetFocusGenes(focus)
	}

	records := ann.AnnotateAll(transcripts)

	out := os.Stdout
	if outputFile != "" {
		out, err = os.Create(outputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			return ExitError
		}
		defer out.Close()
	}

	w := output.NewAnnotationWriter(out)
	if err := w.WriteHeader(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing header: %v\n", err)
		return ExitError
	}
	var withTE, withPromoter int
	for _, rec := range records {
		if rec.OverlapCount > 0 {
			withTE++
		}
		if rec.HasTEPromoter {
			withPromoter++
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

	logger.Info("annotation complete",
		zap.Int("transcripts", len(records)),
		zap.Int("with_te", withTE),
		zap.Int("with_te_promoter", withPromoter))
	fmt.Fprintf(os.Stderr, "Annotated %d transcripts: %d with TE overlap, %d with TE promoter\n",
		len(records), withTE, withPromoter)

	return ExitSuccess
}

// readFocusFile reads gene names, one per line. Blank lines and #
// comments are skipped.
func readFocusFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		names = append(names, name)
	}
	return names, sc.Err()
}

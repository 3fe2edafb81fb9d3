package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fragseq/teprof/internal/genemodel"
)

func runConvertCmd(args []string) int {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)

	var (
		inputPath  string
		outputPath string
	)

	fs.StringVar(&inputPath, "input", "", "Reference GTF with gene models (optionally gzipped)")
	fs.StringVar(&inputPath, "i", "", "Reference GTF with gene models (shorthand)")
	fs.StringVar(&outputPath, "output", "", "Output DuckDB file path")
	fs.StringVar(&outputPath, "o", "", "Output DuckDB file path (shorthand)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Convert a reference GTF to a gene-model DuckDB database.

The database maps transcript spans to gene identifiers and is used by
'teprof annotate' to name genes in fragmented assemblies.

Usage:
  teprof convert [options]

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  teprof convert --input reference.gtf --output genes.duckdb
  teprof convert -i reference.gtf.gz -o genes
`)
	}

	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --input is required\n\n")
		fs.Usage()
		return ExitUsage
	}
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --output is required\n\n")
		fs.Usage()
		return ExitUsage
	}

	// Ensure output has .duckdb extension
	if filepath.Ext(outputPath) != ".duckdb" && filepath.Ext(outputPath) != ".db" {
		outputPath = outputPath + ".duckdb"
	}

	// Remove existing output file if it exists
	if _, err := os.Stat(outputPath); err == nil {
		if err := os.Remove(outputPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing existing file: %v\n", err)
			return ExitError
		}
	}

	fmt.Fprintf(os.Stderr, "Converting gene models to DuckDB...\n")
	fmt.Fprintf(os.Stderr, "  Input:  %s\n", inputPath)
	fmt.Fprintf(os.Stderr, "  Output: %s\n", outputPath)

	store, err := genemodel.Open(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating DuckDB: %v\n", err)
		return ExitError
	}
	defer store.Close()

	n, err := store.BuildFromGTF(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building gene models: %v\n", err)
		return ExitError
	}

	// Get file size
	stat, err := os.Stat(outputPath)
	var sizeStr string
	if err == nil {
		sizeMB := float64(stat.Size()) / (1024 * 1024)
		sizeStr = fmt.Sprintf("%.2f MB", sizeMB)
	} else {
		sizeStr = "unknown"
	}

	fmt.Fprintf(os.Stderr, "\nConversion complete!\n")
	fmt.Fprintf(os.Stderr, "  Gene models: %d\n", n)
	fmt.Fprintf(os.Stderr, "  Output size: %s\n", sizeStr)
	fmt.Fprintf(os.Stderr, "  Output file: %s\n", outputPath)

	return ExitSuccess
}

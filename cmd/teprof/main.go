// Package main provides the teprof command-line tool.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitUsage   = 2
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Global flags
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	// Parse global flags first
	flag.Parse()

	if showVersion {
		fmt.Printf("teprof version %s (%s) built %s\n", version, commit, date)
		return ExitSuccess
	}

	initConfig()

	// Check for subcommand
	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return ExitUsage
	}

	switch args[0] {
	case "annotate":
		return runAnnotateCmd(args[1:])
	case "quantify":
		return runQuantifyCmd(args[1:])
	case "batch":
		return runBatchCmd(args[1:])
	case "convert":
		return runConvertCmd(args[1:])
	case "config":
		return runConfigCmd(args[1:])
	case "help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printUsage()
		return ExitUsage
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `teprof - Transposable element transcript annotation and quantification

Usage:
  teprof [options] <command> [arguments]

Commands:
  annotate    Annotate assembled transcripts with TE overlaps and TE promoters
  quantify    Quantify transcript expression from an indexed BAM file
  batch       Run annotate and quantify over a cohort sample sheet
  convert     Convert a reference GTF to a gene-model DuckDB database
  config      Manage teprof configuration
  help        Show this help message

Global Options:
  --version   Show version information

Examples:
  # Annotate a StringTie assembly against a RepeatMasker BED
  teprof annotate --rmsk repeats.bed assembly.gtf

  # Quantify expression from a STAR alignment
  teprof quantify sample.bam assembly.gtf -o sample

  # Run a full cohort
  teprof batch --rmsk repeats.bed --gtf assembly.gtf --out results samples.tsv

For more information on a command, use:
  teprof <command> --help
`)
}

// initConfig loads ~/.teprof.yaml and TEPROF_* environment variables.
// Missing config is not an error.
func initConfig() {
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetConfigName(".teprof")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("TEPROF")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// newLogger builds the console logger used by all subcommands.
func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

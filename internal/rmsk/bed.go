// Package rmsk loads RepeatMasker-style TE annotations into a genome
// interval index.
package rmsk

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fragseq/teprof/internal/genome"
)

// Loader reads BED records (contig, start, end, optional name, score,
// strand) into an index.
type Loader struct {
	path   string
	logger *zap.Logger
}

// NewLoader creates a loader for the BED file at path. Files ending in
// .gz are decompressed transparently.
func NewLoader(path string) *Loader {
	return &Loader{path: path, logger: zap.NewNop()}
}

// SetLogger sets the logger for skipped-record diagnostics.
func (l *Loader) SetLogger(lg *zap.Logger) {
	l.logger = lg
}

// Load inserts every well-formed record into ix and returns the number
// inserted. Zero-length and inverted ranges are skipped silently; they
// occur in real RepeatMasker output and are neither errors nor index
// entries. A file open or scan failure is an error.
func (l *Loader) Load(ix *genome.Index) (int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return 0, fmt.Errorf("open TE reference: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(l.path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("open gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	scanner := bufio.NewScanner(reader)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	loaded := 0
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "track") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			l.logger.Debug("skipping short BED line", zap.Int("line", lineNum))
			continue
		}

		start, err := strconv.Atoi(fields[1])
		if err != nil {
			l.logger.Debug("skipping BED line with bad start", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		end, err := strconv.Atoi(fields[2])
		if err != nil {
			l.logger.Debug("skipping BED line with bad end", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		if start < 0 || end <= start {
			l.logger.Debug("skipping degenerate TE range",
				zap.String("contig", fields[0]), zap.Int("start", start), zap.Int("end", end))
			continue
		}

		name := ""
		if len(fields) > 3 {
			name = fields[3]
		}
		score := 0.0
		if len(fields) > 4 {
			if s, err := strconv.ParseFloat(fields[4], 64); err == nil {
				score = s
			}
		}
		strand := genome.StrandNone
		if len(fields) > 5 && fields[5] != "" {
			strand = fields[5]
		}

		if _, err := ix.Insert(genome.Interval{
			Contig: fields[0],
			Start:  start,
			End:    end,
			Strand: strand,
			Label:  name,
			Score:  score,
		}); err != nil {
			l.logger.Debug("skipping unindexable TE record", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		loaded++
	}

	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("scan TE reference: %w", err)
	}

	l.logger.Info("loaded TE reference",
		zap.Int("intervals", loaded),
		zap.Int("contigs", len(ix.Contigs())))
	return loaded, nil
}

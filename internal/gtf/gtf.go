// Package gtf parses transcript records from GTF annotation tables.
package gtf

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// MissingAttr is the sentinel stored when a transcript row lacks one of
// the identity attributes. Sparse annotations for non-model organisms
// routinely omit gene_name; processing must not abort over it.
const MissingAttr = "None"

// Transcript is a transcript row from a GTF file. Coordinates are
// converted to 0-based half-open [Start, End) on ingestion.
type Transcript struct {
	ID       string
	GeneID   string
	GeneName string
	Contig   string
	Start    int
	End      int
	Strand   string
	Length   int
}

// Reader loads transcript records from a GTF file.
type Reader struct {
	path   string
	logger *zap.Logger
}

// NewReader creates a reader for the GTF file at path. Files ending in
// .gz are decompressed transparently.
func NewReader(path string) *Reader {
	return &Reader{path: path, logger: zap.NewNop()}
}

// SetLogger sets the logger for skipped-line diagnostics.
func (r *Reader) SetLogger(l *zap.Logger) {
	r.logger = l
}

// ReadTranscripts parses the file and returns every row whose feature
// column is "transcript", in file order. Comment lines and malformed
// rows are skipped. Only a whole-file open or scan failure is an error.
func (r *Reader) ReadTranscripts() ([]*Transcript, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open GTF file: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(r.path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	return r.parse(reader)
}

func (r *Reader) parse(reader io.Reader) ([]*Transcript, error) {
	scanner := bufio.NewScanner(reader)
	// Attribute columns can be long
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var transcripts []*Transcript
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 9 {
			r.logger.Debug("skipping short GTF line", zap.Int("line", lineNum))
			continue
		}
		if fields[2] != "transcript" {
			continue
		}

		start, err := strconv.Atoi(fields[3])
		if err != nil {
			r.logger.Debug("skipping GTF line with bad start", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		end, err := strconv.Atoi(fields[4])
		if err != nil {
			r.logger.Debug("skipping GTF line with bad end", zap.Int("line", lineNum), zap.Error(err))
			continue
		}

		attrs := ParseAttributes(fields[8])
		transcripts = append(transcripts, &Transcript{
			ID:       Attr(attrs, "transcript_id"),
			GeneID:   Attr(attrs, "gene_id"),
			GeneName: Attr(attrs, "gene_name"),
			Contig:   fields[0],
			Start:    start - 1, // GTF is 1-based inclusive
			End:      end,
			Strand:   fields[6],
			Length:   end - (start - 1),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan GTF: %w", err)
	}
	return transcripts, nil
}

// ParseAttributes parses the GTF attribute column.
// Format: key "value"; key "value"; ...
func ParseAttributes(attrStr string) map[string]string {
	attrs := make(map[string]string)

	for _, part := range strings.Split(attrStr, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Split key from value on the first whitespace
		idx := strings.IndexAny(part, " \t")
		if idx == -1 {
			attrs[part] = ""
			continue
		}

		key := part[:idx]
		value := strings.TrimSpace(part[idx+1:])
		value = strings.Trim(value, `"'`)
		attrs[key] = value
	}

	return attrs
}

// Attr returns the named attribute, or the MissingAttr sentinel when it
// is absent or empty. Missing attributes never abort processing.
func Attr(attrs map[string]string, key string) string {
	if v, ok := attrs[key]; ok && v != "" {
		return v
	}
	return MissingAttr
}

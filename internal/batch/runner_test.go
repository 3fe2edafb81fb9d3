package batch

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fragseq/teprof/internal/annotate"
	"github.com/fragseq/teprof/internal/genome"
	"github.com/fragseq/teprof/internal/quantify"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadSampleSheet(t *testing.T) {
	sheet := "# cohort one\n" +
		"sample_id\tbam\n" +
		"s1\t/data/s1.bam\n" +
		"s2\t/data/s2.bam\t/data/s2.gtf\n"
	path := writeTemp(t, "samples.tsv", sheet)

	samples, err := ReadSampleSheet(path)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, Sample{ID: "s1", BAM: "/data/s1.bam"}, samples[0])
	assert.Equal(t, Sample{ID: "s2", BAM: "/data/s2.bam", GTF: "/data/s2.gtf"}, samples[1])
}

func TestReadSampleSheetRejectsShortRows(t *testing.T) {
	path := writeTemp(t, "samples.tsv", "s1\n")
	_, err := ReadSampleSheet(path)
	require.Error(t, err)
}

func TestReadSampleSheetEmpty(t *testing.T) {
	path := writeTemp(t, "samples.tsv", "# nothing here\n")
	_, err := ReadSampleSheet(path)
	require.Error(t, err)
}

func TestReadSampleSheetMissingFile(t *testing.T) {
	_, err := ReadSampleSheet(filepath.Join(t.TempDir(), "nope.tsv"))
	require.Error(t, err)
}

func TestRunIsolatesFailedSamples(t *testing.T) {
	gtfContent := "scaffold_7\tStringTie\ttranscript\t10001\t12000\t.\t+\t.\t" +
		`gene_id "MSTRG.1"; transcript_id "MSTRG.1.1";` + "\n"
	gtfPath := writeTemp(t, "asm.gtf", gtfContent)

	tes := genome.NewIndex()
	_, err := tes.Insert(genome.Interval{
		Contig: "scaffold_7", Start: 8500, End: 9000, Strand: "+", Label: "Gypsy-1",
	})
	require.NoError(t, err)

	outDir := t.TempDir()
	r := NewRunner(Config{
		TEs:    tes,
		GTF:    gtfPath,
		OutDir: outDir,
	})

	samples := []Sample{
		{ID: "s1", BAM: filepath.Join(t.TempDir(), "missing1.bam")},
		{ID: "s2", BAM: filepath.Join(t.TempDir(), "missing2.bam")},
	}
	sums, err := r.Run(samples)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	for i, sum := range sums {
		assert.Equal(t, samples[i].ID, sum.SampleID)
		assert.Equal(t, "failed", sum.Status)
		assert.NotEmpty(t, sum.Error)
		assert.Equal(t, 1, sum.TotalTranscripts)
	}

	// Sample directories are created before the pipeline runs.
	for _, s := range samples {
		_, err := os.Stat(filepath.Join(outDir, s.ID))
		assert.NoError(t, err)
	}
}

func TestFillSummary(t *testing.T) {
	annRecs := []*annotate.Record{
		{TranscriptID: "t1", OverlapCount: 1, HasTEPromoter: true},
		{TranscriptID: "t2", OverlapCount: 2, HasTEPromoter: false},
		{TranscriptID: "t3", OverlapCount: 0, HasTEPromoter: false},
		{TranscriptID: "t4", OverlapCount: 0, HasTEPromoter: true},
	}
	exprRecs := []*quantify.Record{
		{TranscriptID: "t1", Count: 10, TPM: 400},
		{TranscriptID: "t2", Count: 5, TPM: 100},
		{TranscriptID: "t3", Count: 0, TPM: 0},
		{TranscriptID: "t4", Count: 0, TPM: 0},
	}

	sum := &Summary{TotalTranscripts: 4}
	fillSummary(sum, annRecs, exprRecs)

	assert.Equal(t, 2, sum.TranscriptsWithTE)
	assert.Equal(t, 2, sum.TranscriptsWithTEPromoter)
	assert.InDelta(t, 50.0, sum.TEPromoterPercentage, 1e-9)
	assert.Equal(t, 2, sum.ExpressedTranscripts)
	assert.Equal(t, 15, sum.TotalReads)
	assert.InDelta(t, 250.0, sum.MedianTPM, 1e-9)
	assert.Equal(t, 1, sum.TEPromoterExpressed)
	assert.InDelta(t, 200.0, sum.TEPromoterMeanTPM, 1e-9)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 3.0, median([]float64{3}))
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
}

func TestWriteBatchSummary(t *testing.T) {
	sums := []*Summary{
		{SampleID: "s1", Status: "success", TotalTranscripts: 100, MedianTPM: 12.5},
		{SampleID: "s2", Status: "failed", Error: "opening BAM: no such file"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteBatchSummary(&buf, sums))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "sample_id\tstatus\t"))
	assert.Contains(t, lines[1], "s1\tsuccess\t100")
	assert.Contains(t, lines[2], "s2\tfailed")
	assert.Contains(t, lines[2], "opening BAM")
}

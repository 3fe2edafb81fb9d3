package quantify

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fragseq/teprof/internal/gtf"
)

// fakeSource serves canned counts and depth profiles keyed by contig.
type fakeSource struct {
	counts map[string]int
	depths map[string][]int
	fail   map[string]bool
	closed bool
}

func (f *fakeSource) Count(contig string, start, end int, strand string) (int, error) {
	if f.fail[contig] {
		return 0, errors.New("malformed region")
	}
	return f.counts[contig], nil
}

func (f *fakeSource) Depth(contig string, start, end int) ([]int, error) {
	if f.fail[contig] {
		return nil, errors.New("malformed region")
	}
	if d, ok := f.depths[contig]; ok {
		return d, nil
	}
	return make([]int, end-start), nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func tx(id, gene, contig string, length int) *gtf.Transcript {
	return &gtf.Transcript{
		ID: id, GeneID: gene, GeneName: gene + "_name",
		Contig: contig, Start: 0, End: length, Strand: "+", Length: length,
	}
}

func TestCoverageMeanOverCoveredPositions(t *testing.T) {
	q := New(&fakeSource{depths: map[string][]int{"c": {0, 0, 4, 4, 0, 2, 0, 0, 0, 0}}})

	cov, err := q.Coverage(tx("TX1", "G1", "c", 10))
	require.NoError(t, err)
	assert.InDelta(t, (4.0+4.0+2.0)/3.0, cov, 1e-9)
}

func TestCoverageEmptySpan(t *testing.T) {
	q := New(&fakeSource{})

	cov, err := q.Coverage(tx("TX1", "G1", "c", 10))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cov)
}

func TestQuantifyAllTPMInvariant(t *testing.T) {
	q := New(&fakeSource{counts: map[string]int{"c1": 100, "c2": 50, "c3": 10}})

	recs := q.QuantifyAll([]*gtf.Transcript{
		tx("TX1", "G1", "c1", 1000),
		tx("TX2", "G1", "c2", 2000),
		tx("TX3", "G2", "c3", 500),
	})
	require.Len(t, recs, 3)

	var tpmSum float64
	for _, r := range recs {
		tpmSum += r.TPM
	}
	assert.InDelta(t, 1e6, tpmSum, 1e-6, "TPMs sum to a million")

	// RPK: 100, 25, 20 -> TX1 dominates
	assert.Greater(t, recs[0].TPM, recs[1].TPM)
	assert.Greater(t, recs[1].TPM, recs[2].TPM)

	// FPKM spot check: RPK / (total reads / 1e6)
	total := 160.0
	assert.InDelta(t, 100.0/(total/1e6), recs[0].FPKM, 1e-6)
}

func TestQuantifyAllZeroCounts(t *testing.T) {
	q := New(&fakeSource{})

	recs := q.QuantifyAll([]*gtf.Transcript{
		tx("TX1", "G1", "c1", 1000),
		tx("TX2", "G2", "c2", 500),
	})

	for _, r := range recs {
		assert.Equal(t, 0, r.Count)
		assert.Equal(t, 0.0, r.TPM, "no division by zero when all counts are zero")
		assert.Equal(t, 0.0, r.FPKM)
	}
}

func TestQuantifyAllUnknownContig(t *testing.T) {
	q := New(&fakeSource{counts: map[string]int{"known": 10}})

	recs := q.QuantifyAll([]*gtf.Transcript{
		tx("TX1", "G1", "known", 1000),
		tx("TX2", "G1", "chrUnplaced_999", 1000),
	})

	assert.Equal(t, 10, recs[0].Count)
	assert.Equal(t, 0, recs[1].Count)
	assert.Equal(t, 0.0, recs[1].Coverage)
	assert.Equal(t, 0.0, recs[1].TPM)
}

func TestQuantifyAllPerRecordFailure(t *testing.T) {
	q := New(&fakeSource{
		counts: map[string]int{"good": 30},
		fail:   map[string]bool{"bad": true},
	})

	recs := q.QuantifyAll([]*gtf.Transcript{
		tx("TX1", "G1", "good", 1000),
		tx("TX2", "G1", "bad", 1000),
		tx("TX3", "G2", "good", 1000),
	})
	require.Len(t, recs, 3, "a failing transcript gets a zero record, the run continues")

	assert.Equal(t, 30, recs[0].Count)
	assert.Equal(t, 0, recs[1].Count)
	assert.Equal(t, 0.0, recs[1].Coverage)
	assert.Equal(t, 30, recs[2].Count)
	assert.Greater(t, recs[2].TPM, 0.0)
}

func TestAggregateToGene(t *testing.T) {
	recs := []*Record{
		{TranscriptID: "TX1", GeneID: "G1", GeneName: "A", Count: 10, TPM: 100, FPKM: 50, Length: 1000},
		{TranscriptID: "TX2", GeneID: "G1", GeneName: "A", Count: 30, TPM: 300, FPKM: 150, Length: 2500},
		{TranscriptID: "TX3", GeneID: "G2", GeneName: "B", Count: 5, TPM: 20, FPKM: 10, Length: 400},
	}

	genes := AggregateToGene(recs)
	require.Len(t, genes, 2)

	g1 := genes[0]
	assert.Equal(t, "G1", g1.GeneID)
	assert.Equal(t, 40, g1.Count)
	assert.InDelta(t, 400.0, g1.TPM, 1e-9)
	assert.InDelta(t, 200.0, g1.FPKM, 1e-9)
	assert.Equal(t, 2500, g1.MaxLength, "longest transcript represents the gene")

	assert.Equal(t, "G2", genes[1].GeneID)
	assert.Equal(t, 5, genes[1].Count)
}

func TestTranscriptFractions(t *testing.T) {
	recs := []*Record{
		{TranscriptID: "TX1", GeneID: "G1", Count: 30, TPM: 600},
		{TranscriptID: "TX2", GeneID: "G1", Count: 10, TPM: 200},
		{TranscriptID: "TX3", GeneID: "G0", Count: 0, TPM: 0},
	}

	TranscriptFractions(recs)

	assert.InDelta(t, 0.75, recs[0].CountFraction, 1e-9)
	assert.InDelta(t, 0.25, recs[1].CountFraction, 1e-9)
	assert.InDelta(t, 0.75, recs[0].TPMFraction, 1e-9)

	sum := recs[0].TPMFraction + recs[1].TPMFraction
	assert.InDelta(t, 1.0, sum, 1e-9, "fractions of an expressed gene sum to one")

	assert.Equal(t, 0.0, recs[2].CountFraction, "zero gene totals give zero fractions, not NaN")
	assert.Equal(t, 0.0, recs[2].TPMFraction)
	assert.False(t, math.IsNaN(recs[2].TPMFraction))
}

func TestFakeSourceCloseDiscipline(t *testing.T) {
	src := &fakeSource{}
	q := New(src)
	_ = q.QuantifyAll(nil)

	require.NoError(t, src.Close())
	assert.True(t, src.closed)
}

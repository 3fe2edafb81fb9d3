package rmsk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fragseq/teprof/internal/genome"
)

const sampleBED = `# RepeatMasker export
scaffold_7	8500	9000	LTR/Copia	312	+
scaffold_7	9000	9500	LTR/Gypsy	150	-
scaffold_7	12000	12000	ZeroLen	0	+
scaffold_7	15000	14000	Inverted	0	+
scaffold_12	100	250	DNA/hAT
short	1
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rmsk.bed")
	require.NoError(t, os.WriteFile(path, []byte(sampleBED), 0o644))

	ix := genome.NewIndex()
	n, err := NewLoader(path).Load(ix)
	require.NoError(t, err)

	assert.Equal(t, 3, n, "zero-length, inverted and short rows are skipped silently")
	assert.Equal(t, genome.ContigStats{Count: 2, TotalBP: 1000}, ix.Stats("scaffold_7"))

	hits := ix.QueryOverlap("scaffold_7", 8600, 8700, "+")
	require.Len(t, hits, 1)
	assert.Equal(t, "LTR/Copia", hits[0].Label)
	assert.Equal(t, 312.0, hits[0].Score)

	noName := ix.QueryOverlap("scaffold_12", 0, 1000, "")
	require.Len(t, noName, 1)
	assert.Equal(t, "DNA/hAT", noName[0].Label)
	assert.Equal(t, genome.StrandNone, noName[0].Strand, "missing strand column defaults to unstranded")
}

func TestLoadMissingFile(t *testing.T) {
	ix := genome.NewIndex()
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.bed")).Load(ix)
	assert.Error(t, err, "a missing TE reference is a configuration error")
}

package quantify

import (
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
)

func rec(pos int, mapq byte, flags sam.Flags, cigar sam.Cigar) *sam.Record {
	return &sam.Record{Pos: pos, MapQ: mapq, Flags: flags, Cigar: cigar}
}

func TestCountable(t *testing.T) {
	match := sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 50)}

	assert.True(t, countable(rec(100, 255, 0, match), 255))
	assert.False(t, countable(rec(100, 60, 0, match), 255), "below minimum mapping quality")
	assert.True(t, countable(rec(100, 60, 0, match), 60), "HISAT2-style threshold")
	assert.False(t, countable(rec(100, 255, sam.Unmapped, match), 0))
}

func TestPileable(t *testing.T) {
	assert.True(t, pileable(rec(0, 0, 0, nil)))
	assert.False(t, pileable(rec(0, 0, sam.Unmapped, nil)))
	assert.False(t, pileable(rec(0, 0, sam.Secondary, nil)))
	assert.False(t, pileable(rec(0, 0, sam.Duplicate, nil)))
	assert.False(t, pileable(rec(0, 0, sam.QCFail, nil)))
}

func TestAddDepthSimpleMatch(t *testing.T) {
	depth := make([]int, 10)
	addDepth(depth, rec(102, 255, 0, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 5)}), 100)

	assert.Equal(t, []int{0, 0, 1, 1, 1, 1, 1, 0, 0, 0}, depth)
}

func TestAddDepthClampsToRegion(t *testing.T) {
	depth := make([]int, 10)
	addDepth(depth, rec(95, 255, 0, sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 30)}), 100)

	for i, d := range depth {
		assert.Equal(t, 1, d, "position %d", i)
	}
}

func TestAddDepthSplicedRead(t *testing.T) {
	// 5M 10N 5M: the skipped intron contributes no depth.
	cigar := sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, 5),
		sam.NewCigarOp(sam.CigarSkipped, 10),
		sam.NewCigarOp(sam.CigarMatch, 5),
	}
	depth := make([]int, 20)
	addDepth(depth, rec(0, 255, 0, cigar), 0)

	want := make([]int, 20)
	for i := 0; i < 5; i++ {
		want[i] = 1
		want[15+i] = 1
	}
	assert.Equal(t, want, depth)
}

func TestAddDepthDeletionSpansReference(t *testing.T) {
	// 3M 2D 3M: the deletion consumes reference and is piled, as in a
	// samtools pileup column count.
	cigar := sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarDeletion, 2),
		sam.NewCigarOp(sam.CigarMatch, 3),
	}
	depth := make([]int, 8)
	addDepth(depth, rec(0, 255, 0, cigar), 0)

	assert.Equal(t, []int{1, 1, 1, 1, 1, 1, 1, 1}, depth)
}

func TestAddDepthInsertionConsumesNoReference(t *testing.T) {
	// 3M 4I 3M covers 6 reference bases.
	cigar := sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarInsertion, 4),
		sam.NewCigarOp(sam.CigarMatch, 3),
	}
	depth := make([]int, 8)
	addDepth(depth, rec(0, 255, 0, cigar), 0)

	assert.Equal(t, []int{1, 1, 1, 1, 1, 1, 0, 0}, depth)
}

func TestOpenBAMMissingFile(t *testing.T) {
	_, err := OpenBAM(t.TempDir() + "/missing.bam")
	assert.Error(t, err, "a missing BAM is a configuration error")
}

// Package genome provides genomic interval values and a per-contig
// interval index for overlap queries on fragmented assemblies.
package genome

import "fmt"

// Strand codes accepted by Interval.
const (
	StrandPlus  = "+"
	StrandMinus = "-"
	StrandNone  = "."
)

// ValidationError reports an interval that failed construction-time
// validation. Invalid intervals never enter an Index.
type ValidationError struct {
	Contig string
	Start  int
	End    int
	Strand string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid interval %s:%d-%d(%s): %s",
		e.Contig, e.Start, e.End, e.Strand, e.Reason)
}

// Interval is an immutable genomic range on a named contig.
// Coordinates are 0-based half-open [Start, End), BED style.
type Interval struct {
	Contig   string
	Start    int
	End      int
	Strand   string
	Label    string
	Score    float64
	Metadata map[string]string
}

// Validate checks coordinates and strand. It returns a *ValidationError
// describing the first violation found, or nil.
func (iv *Interval) Validate() error {
	switch {
	case iv.Start < 0:
		return iv.invalid("start position cannot be negative")
	case iv.End <= iv.Start:
		return iv.invalid("end position must be greater than start position")
	}
	switch iv.Strand {
	case StrandPlus, StrandMinus, StrandNone:
	default:
		return iv.invalid("unrecognized strand")
	}
	return nil
}

func (iv *Interval) invalid(reason string) *ValidationError {
	return &ValidationError{
		Contig: iv.Contig,
		Start:  iv.Start,
		End:    iv.End,
		Strand: iv.Strand,
		Reason: reason,
	}
}

// Length returns the interval length in base pairs.
func (iv *Interval) Length() int {
	return iv.End - iv.Start
}

// Overlaps reports whether iv and other share at least one base on the
// same contig.
func (iv *Interval) Overlaps(other *Interval) bool {
	if iv.Contig != other.Contig {
		return false
	}
	return iv.Start < other.End && other.Start < iv.End
}

// OverlapLength returns the number of overlapping bases, 0 when the
// intervals do not overlap.
func (iv *Interval) OverlapLength(other *Interval) int {
	if !iv.Overlaps(other) {
		return 0
	}
	lo, hi := iv.Start, iv.End
	if other.Start > lo {
		lo = other.Start
	}
	if other.End < hi {
		hi = other.End
	}
	return hi - lo
}

// String renders the interval as a BED6 line.
func (iv *Interval) String() string {
	return fmt.Sprintf("%s\t%d\t%d\t%s\t%g\t%s",
		iv.Contig, iv.Start, iv.End, iv.Label, iv.Score, iv.Strand)
}

package genome

import (
	"sort"

	"github.com/biogo/store/interval"
	"go.uber.org/zap"
)

// ContigStats holds running per-contig insertion statistics.
type ContigStats struct {
	Count   int
	TotalBP int
}

// entry adapts a stored *Interval to the interval tree.
type entry struct {
	iv *Interval
	id uintptr
}

func (e entry) Overlap(b interval.IntRange) bool {
	return e.iv.Start < b.End && b.Start < e.iv.End
}
func (e entry) ID() uintptr              { return e.id }
func (e entry) Range() interval.IntRange { return interval.IntRange{Start: e.iv.Start, End: e.iv.End} }

// span is a half-open overlap query.
type span struct {
	start, end int
}

func (q span) Overlap(b interval.IntRange) bool {
	return q.start < b.End && b.Start < q.end
}

// Index stores genomic intervals keyed by contig name, one balanced
// interval tree per contig. Trees are created lazily on first insertion,
// and lookups on contigs that were never inserted return empty results
// rather than errors. Fragmented assemblies have thousands of contigs
// with few or no features each; this property is what keeps the query
// path panic-free for them.
//
// An Index is not safe for mutation concurrent with reads. The intended
// lifecycle is load once, query many times.
type Index struct {
	trees  map[string]*interval.IntTree
	order  map[string][]*Interval
	stats  map[string]ContigStats
	nextID uintptr
	logger *zap.Logger
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		trees:  make(map[string]*interval.IntTree),
		order:  make(map[string][]*Interval),
		stats:  make(map[string]ContigStats),
		logger: zap.NewNop(),
	}
}

// SetLogger sets the logger for query diagnostics.
func (ix *Index) SetLogger(l *zap.Logger) {
	ix.logger = l
}

// Insert validates iv and stores it, creating the contig's tree on
// demand. It returns the stored interval, or a *ValidationError when
// the coordinates or strand are invalid. Insertion never fails because
// a contig has not been seen before.
func (ix *Index) Insert(iv Interval) (*Interval, error) {
	if err := iv.Validate(); err != nil {
		return nil, err
	}

	stored := &iv
	t, ok := ix.trees[iv.Contig]
	if !ok {
		t = &interval.IntTree{}
		ix.trees[iv.Contig] = t
	}

	ix.nextID++
	if err := t.Insert(entry{iv: stored, id: ix.nextID}, false); err != nil {
		return nil, err
	}

	ix.order[iv.Contig] = append(ix.order[iv.Contig], stored)

	s := ix.stats[iv.Contig]
	s.Count++
	s.TotalBP += stored.Length()
	ix.stats[iv.Contig] = s

	return stored, nil
}

// QueryOverlap returns every stored interval on contig intersecting the
// half-open range [start, end), in ascending start order. A non-empty
// strand restricts results to that strand. An unknown contig yields an
// empty result, never an error.
func (ix *Index) QueryOverlap(contig string, start, end int, strand string) []*Interval {
	t, ok := ix.trees[contig]
	if !ok {
		ix.logger.Debug("no intervals for contig", zap.String("contig", contig))
		return nil
	}

	var hits []*Interval
	t.DoMatching(func(e interval.IntInterface) (done bool) {
		iv := e.(entry).iv
		if strand == "" || iv.Strand == strand {
			hits = append(hits, iv)
		}
		return
	}, span{start: start, end: end})
	return hits
}

// ContigIntervals returns all intervals stored for contig in insertion
// order, optionally restricted to one strand. Unknown contigs yield an
// empty result.
func (ix *Index) ContigIntervals(contig, strand string) []*Interval {
	stored := ix.order[contig]
	if strand == "" {
		return append([]*Interval(nil), stored...)
	}
	var ivs []*Interval
	for _, iv := range stored {
		if iv.Strand == strand {
			ivs = append(ivs, iv)
		}
	}
	return ivs
}

// Merge returns the disjoint cover of the contig's intervals, in
// ascending start order. Any interval starting within gap bases of the
// end of the growing run is folded in: labels are comma-joined, the
// maximum score is kept, and metadata maps are unioned with later
// values winning. Intervals sharing a start are folded in stored order.
func (ix *Index) Merge(contig, strand string, gap int) []*Interval {
	ivs := ix.ContigIntervals(contig, strand)
	if len(ivs) == 0 {
		return nil
	}

	sort.SliceStable(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })

	var merged []*Interval
	cur := cloneInterval(ivs[0])
	for _, next := range ivs[1:] {
		if next.Start <= cur.End+gap {
			if next.End > cur.End {
				cur.End = next.End
			}
			cur.Label = cur.Label + "," + next.Label
			if next.Score > cur.Score {
				cur.Score = next.Score
			}
			for k, v := range next.Metadata {
				if cur.Metadata == nil {
					cur.Metadata = make(map[string]string)
				}
				cur.Metadata[k] = v
			}
			continue
		}
		merged = append(merged, cur)
		cur = cloneInterval(next)
	}
	return append(merged, cur)
}

func cloneInterval(iv *Interval) *Interval {
	c := *iv
	if iv.Metadata != nil {
		c.Metadata = make(map[string]string, len(iv.Metadata))
		for k, v := range iv.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Stats returns the running statistics for contig, zero-valued when the
// contig was never inserted.
func (ix *Index) Stats(contig string) ContigStats {
	return ix.stats[contig]
}

// HasContig reports whether any interval was inserted on contig.
func (ix *Index) HasContig(contig string) bool {
	_, ok := ix.trees[contig]
	return ok
}

// Contigs returns a sorted list of contig names present in the index.
func (ix *Index) Contigs() []string {
	names := make([]string, 0, len(ix.trees))
	for name := range ix.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of intervals stored for contig.
func (ix *Index) Count(contig string) int {
	return ix.stats[contig].Count
}

// CountAll returns the total number of intervals across all contigs.
func (ix *Index) CountAll() int {
	total := 0
	for _, s := range ix.stats {
		total += s.Count
	}
	return total
}

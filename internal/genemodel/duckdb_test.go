package genemodel

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/fragseq/teprof/internal/genome"
)

func TestStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gene_models.duckdb")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.CreateSchema(); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}

	models := []struct {
		contig         string
		start, end     int
		strand         string
		geneID, geneName string
	}{
		{"scaffold_1", 1000, 5000, "+", "G1", "AMB1"},
		{"scaffold_1", 8000, 9000, "-", "G2", "AMB2"},
		{"scaffold_44", 0, 300, "+", "G3", "None"},
	}
	for _, m := range models {
		if err := store.Insert(m.contig, m.start, m.end, m.strand, m.geneID, m.geneName); err != nil {
			t.Fatalf("Insert %s: %v", m.geneID, err)
		}
	}

	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	ix := genome.NewIndex()
	loaded, err := store.Load(ix)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded != 3 {
		t.Errorf("Load = %d, want 3", loaded)
	}

	hits := ix.QueryOverlap("scaffold_1", 2000, 3000, "+")
	if len(hits) != 1 {
		t.Fatalf("QueryOverlap = %d hits, want 1", len(hits))
	}
	if hits[0].Label != "G1" {
		t.Errorf("Label = %q, want G1", hits[0].Label)
	}
	if hits[0].Metadata["gene_name"] != "AMB1" {
		t.Errorf("gene_name = %q, want AMB1", hits[0].Metadata["gene_name"])
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	ix := LoadOptional(filepath.Join(t.TempDir(), "absent.duckdb"), zap.NewNop())
	if ix == nil {
		t.Fatal("LoadOptional returned nil")
	}
	if ix.CountAll() != 0 {
		t.Errorf("CountAll = %d, want 0 (degrade to empty, not fatal)", ix.CountAll())
	}
}

func TestLoadOptionalEmptyPath(t *testing.T) {
	ix := LoadOptional("", zap.NewNop())
	if ix.CountAll() != 0 {
		t.Errorf("CountAll = %d, want 0", ix.CountAll())
	}
}

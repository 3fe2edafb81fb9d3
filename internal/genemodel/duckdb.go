// Package genemodel stores precomputed gene-model dictionaries in
// DuckDB and loads them into genome interval indexes.
package genemodel

import (
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/fragseq/teprof/internal/genome"
	"github.com/fragseq/teprof/internal/gtf"
)

// Store is a DuckDB-backed gene-model dictionary.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens a gene-model dictionary database at path, creating the
// file when it does not exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open gene-model dictionary: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSchema creates the gene_models table, dropping any previous
// contents.
func (s *Store) CreateSchema() error {
	_, err := s.db.Exec(`
		DROP TABLE IF EXISTS gene_models;
		CREATE TABLE gene_models (
			contig    VARCHAR NOT NULL,
			start     INTEGER NOT NULL,
			end_      INTEGER NOT NULL,
			strand    VARCHAR NOT NULL,
			gene_id   VARCHAR NOT NULL,
			gene_name VARCHAR NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create gene_models schema: %w", err)
	}
	return nil
}

// Insert adds one gene model. Coordinates are 0-based half-open.
func (s *Store) Insert(contig string, start, end int, strand, geneID, geneName string) error {
	_, err := s.db.Exec(`
		INSERT INTO gene_models (contig, start, end_, strand, gene_id, gene_name)
		VALUES (?, ?, ?, ?, ?, ?)
	`, contig, start, end, strand, geneID, geneName)
	if err != nil {
		return fmt.Errorf("insert gene model %s: %w", geneID, err)
	}
	return nil
}

// Count returns the number of stored gene models.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM gene_models`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count gene models: %w", err)
	}
	return n, nil
}

// Load reads every gene model into ix and returns the number loaded.
// Models with degenerate coordinates are skipped.
func (s *Store) Load(ix *genome.Index) (int, error) {
	rows, err := s.db.Query(`
		SELECT contig, start, end_, strand, gene_id, gene_name
		FROM gene_models
		ORDER BY contig, start
	`)
	if err != nil {
		return 0, fmt.Errorf("query gene models: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var contig, strand, geneID, geneName string
		var start, end int
		if err := rows.Scan(&contig, &start, &end, &strand, &geneID, &geneName); err != nil {
			return loaded, fmt.Errorf("scan gene model: %w", err)
		}
		if _, err := ix.Insert(genome.Interval{
			Contig:   contig,
			Start:    start,
			End:      end,
			Strand:   strand,
			Label:    geneID,
			Metadata: map[string]string{"gene_name": geneName},
		}); err != nil {
			continue
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return loaded, fmt.Errorf("read gene models: %w", err)
	}
	return loaded, nil
}

// BuildFromGTF populates the dictionary from the transcript rows of a
// reference GTF, replacing existing contents. Returns the number of
// models written.
func (s *Store) BuildFromGTF(gtfPath string) (int, error) {
	reader := gtf.NewReader(gtfPath)
	transcripts, err := reader.ReadTranscripts()
	if err != nil {
		return 0, err
	}

	if err := s.CreateSchema(); err != nil {
		return 0, err
	}

	written := 0
	for _, t := range transcripts {
		if err := s.Insert(t.Contig, t.Start, t.End, t.Strand, t.GeneID, t.GeneName); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// LoadOptional loads the dictionary at path into a fresh index. The
// dictionary is optional reference data: any failure degrades to an
// empty index with a warning rather than an error.
func LoadOptional(path string, logger *zap.Logger) *genome.Index {
	ix := genome.NewIndex()
	if path == "" {
		return ix
	}

	store, err := Open(path)
	if err != nil {
		logger.Warn("failed to open gene-model dictionary; continuing without it",
			zap.String("path", path), zap.Error(err))
		return ix
	}
	defer store.Close()

	n, err := store.Load(ix)
	if err != nil {
		logger.Warn("failed to load gene-model dictionary; continuing without it",
			zap.String("path", path), zap.Error(err))
		return genome.NewIndex()
	}

	logger.Info("loaded gene-model dictionary",
		zap.String("path", path),
		zap.Int("models", n),
		zap.Int("contigs", len(ix.Contigs())))
	return ix
}

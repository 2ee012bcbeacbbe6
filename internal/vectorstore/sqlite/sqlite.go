// Package sqlite persists index builds as SQLite files behind an atomic pointer.
//
// Layout under the index directory:
//
//	CURRENT                 name of the authoritative build directory
//	build-<id>/index.db     one self-contained build
//
// A build is written to its own directory first; CURRENT is then replaced
// with write-temp-and-rename, so readers see either the old or the new build.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"fundrag/internal/domain"
	"fundrag/internal/vectorstore"
	"fundrag/internal/vectorstore/memory"
)

const (
	currentFile = "CURRENT"
	buildPrefix = "build-"
	dbFile      = "index.db"
)

const schema = `
CREATE TABLE manifest (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	data TEXT NOT NULL
);
CREATE TABLE entries (
	position INTEGER PRIMARY KEY,
	doc_id   TEXT NOT NULL,
	text     TEXT NOT NULL,
	kind     TEXT NOT NULL,
	source   TEXT NOT NULL,
	vector   TEXT NOT NULL
);`

// Storage keeps the persisted build on disk and the loaded build in memory.
type Storage struct {
	dir    string
	mem    *memory.Storage
	logger zerolog.Logger
}

// NewStorage returns a store rooted at dir, creating it if needed.
func NewStorage(dir string, logger zerolog.Logger) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("sqlite index directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	return &Storage{dir: dir, mem: memory.NewStorage(), logger: logger}, nil
}

// Replace writes a new build and makes it current.
func (s *Storage) Replace(ctx context.Context, docs []domain.Document, vectors [][]float64, manifest domain.Manifest) error {
	if err := vectorstore.Validate(docs, vectors, manifest); err != nil {
		return err
	}
	if manifest.BuildID == "" {
		return errors.New("manifest has no build id")
	}
	manifest.Count = len(docs)

	buildDir := buildPrefix + manifest.BuildID
	buildPath := filepath.Join(s.dir, buildDir)
	if err := os.Mkdir(buildPath, 0o755); err != nil {
		return fmt.Errorf("create build directory: %w", err)
	}
	if err := writeBuild(ctx, filepath.Join(buildPath, dbFile), docs, vectors, manifest); err != nil {
		_ = os.RemoveAll(buildPath)
		return err
	}
	if err := s.swapCurrent(buildDir); err != nil {
		_ = os.RemoveAll(buildPath)
		return err
	}
	if err := s.mem.Replace(ctx, docs, vectors, manifest); err != nil {
		return err
	}
	s.prune(buildDir)
	return nil
}

// Load reads the current build into memory.
func (s *Storage) Load(ctx context.Context) (domain.Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return domain.Manifest{}, vectorstore.ErrNoIndex
	}
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("read current build pointer: %w", err)
	}
	buildDir := strings.TrimSpace(string(raw))
	docs, vectors, manifest, err := readBuild(ctx, filepath.Join(s.dir, buildDir, dbFile))
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("load build %s: %w", buildDir, err)
	}
	if err := s.mem.Replace(ctx, docs, vectors, manifest); err != nil {
		return domain.Manifest{}, err
	}
	return manifest, nil
}

func (s *Storage) Search(ctx context.Context, vector []float64, k int) ([]domain.SearchResult, error) {
	return s.mem.Search(ctx, vector, k)
}

func (s *Storage) Close() error { return s.mem.Close() }

func (s *Storage) swapCurrent(buildDir string) error {
	tmp, err := os.CreateTemp(s.dir, currentFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create build pointer: %w", err)
	}
	tmpName := tmp.Name()
	_, err = tmp.WriteString(buildDir + "\n")
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, filepath.Join(s.dir, currentFile))
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("swap build pointer: %w", err)
	}
	return nil
}

// prune removes every build directory except keep. Failures only leave garbage.
func (s *Storage) prune(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("list index builds")
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), buildPrefix) || e.Name() == keep {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			s.logger.Warn().Err(err).Str("build", e.Name()).Msg("remove superseded build")
			continue
		}
		s.logger.Debug().Str("build", e.Name()).Msg("removed superseded build")
	}
}

func writeBuild(ctx context.Context, path string, docs []domain.Document, vectors [][]float64, manifest domain.Manifest) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	data, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO manifest (id, data) VALUES (1, ?)`, string(data)); err != nil {
		return fmt.Errorf("insert manifest: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (position, doc_id, text, kind, source, vector) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, d := range docs {
		vec, err := json.Marshal(vectors[i])
		if err != nil {
			return fmt.Errorf("marshal vector %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, i, d.ID, d.Text, string(d.Kind), d.Table, string(vec)); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit build: %w", err)
	}
	return nil
}

// openReadOnly opens a finished build. The driver only honours mode=ro in
// the file: URI form.
func openReadOnly(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", "file:"+path+"?mode=ro")
}

func readBuild(ctx context.Context, path string) ([]domain.Document, [][]float64, domain.Manifest, error) {
	var manifest domain.Manifest
	if _, err := os.Stat(path); err != nil {
		return nil, nil, manifest, err
	}
	db, err := openReadOnly(path)
	if err != nil {
		return nil, nil, manifest, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var data string
	if err := db.QueryRowContext(ctx, `SELECT data FROM manifest WHERE id = 1`).Scan(&data); err != nil {
		return nil, nil, manifest, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &manifest); err != nil {
		return nil, nil, manifest, fmt.Errorf("decode manifest: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT doc_id, text, kind, source, vector FROM entries ORDER BY position`)
	if err != nil {
		return nil, nil, manifest, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	docs := make([]domain.Document, 0, manifest.Count)
	vectors := make([][]float64, 0, manifest.Count)
	for rows.Next() {
		var d domain.Document
		var kind, vec string
		if err := rows.Scan(&d.ID, &d.Text, &kind, &d.Table, &vec); err != nil {
			return nil, nil, manifest, fmt.Errorf("scan entry: %w", err)
		}
		d.Kind = domain.DocumentKind(kind)
		var v []float64
		if err := json.Unmarshal([]byte(vec), &v); err != nil {
			return nil, nil, manifest, fmt.Errorf("decode vector for %s: %w", d.ID, err)
		}
		docs = append(docs, d)
		vectors = append(vectors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, manifest, fmt.Errorf("iterate entries: %w", err)
	}
	return docs, vectors, manifest, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/clearshot/photoarc/internal/domain"
)

// SQLiteStore implements MetadataStore on a local sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (and if necessary initializes) the metadata database.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL REFERENCES collections(id),
			position INTEGER NOT NULL,
			display_name TEXT NOT NULL,
			file_type TEXT NOT NULL DEFAULT 'ordinary',
			size INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_files_collection ON files(collection_id, position);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetCollection returns a collection with its files ordered by position.
// The position order is what the export pipeline treats as source-file
// order.
func (s *SQLiteStore) GetCollection(ctx context.Context, id domain.CollectionID) (*domain.Collection, error) {
	var col domain.Collection
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title FROM collections WHERE id = ?`, string(id),
	).Scan(&col.ID, &col.Title)
	if err == sql.ErrNoRows {
		return nil, domain.ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, file_type, size
		 FROM files WHERE collection_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref domain.FileRef
		if err := rows.Scan(&ref.ID, &ref.DisplayName, &ref.Type, &ref.Size); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		col.Files = append(col.Files, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}

	return &col, nil
}

// ListCollections returns all collections without their files.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM collections ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	var cols []domain.Collection
	for rows.Next() {
		var col domain.Collection
		if err := rows.Scan(&col.ID, &col.Title); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// PutCollection inserts or replaces a collection and its file list.
func (s *SQLiteStore) PutCollection(ctx context.Context, col *domain.Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (id, title) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		string(col.ID), col.Title); err != nil {
		return fmt.Errorf("upsert collection: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM files WHERE collection_id = ?`, string(col.ID)); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}

	for i, ref := range col.Files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO files (id, collection_id, position, display_name, file_type, size)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(ref.ID), string(col.ID), i, ref.DisplayName, string(ref.Type), ref.Size); err != nil {
			return fmt.Errorf("insert file %s: %w", ref.ID, err)
		}
	}

	return tx.Commit()
}

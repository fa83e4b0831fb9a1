package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-ingest/internal/config"
)

const (
	// DefaultListLimit bounds ListRecent when the caller passes no limit.
	DefaultListLimit = 100

	// MaxListLimit is the hard ceiling on ListRecent result sets.
	MaxListLimit = 1000
)

var (
	// ErrStorageUnavailable is returned when the document store cannot be
	// reached or the operation fails at the driver level.
	ErrStorageUnavailable = errors.New("document store unavailable")

	// ErrNotFound is returned when no record exists for the identifier.
	ErrNotFound = errors.New("document not found")
)

// Document is the persisted unit combining raw bytes, extracted text,
// embedding and metadata. Records are written once by the ingestion
// pipeline and never updated.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID            string    `bun:"id,pk"`
	FileName      string    `bun:"file_name,notnull"`
	FileContent   []byte    `bun:"file_content,notnull"`
	ParsedText    string    `bun:"parsed_text,notnull"`
	Embedding     []float32 `bun:"embedding,notnull,array"`
	EmbeddingSize int       `bun:"embedding_size,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

// Connect opens a Postgres connection pool for the document store.
func Connect(cfg *config.DatabaseConfig) *sql.DB {
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}

// NewDB wraps the sql pool in a bun handle
func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// Store is the persistence gateway for document records. It is safe for
// concurrent use; the underlying pool handles simultaneous uploads.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Init creates the documents table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Put persists a complete record and returns the assigned identifier.
// Consistency of the record (embedding_size in particular) is the
// caller's responsibility.
func (s *Store) Put(ctx context.Context, doc *Document) (string, error) {
	doc.ID = uuid.NewString()
	if _, err := s.db.NewInsert().Model(doc).Exec(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return doc.ID, nil
}

// GetByID returns the full record for the identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Document, error) {
	doc := new(Document)
	err := s.db.NewSelect().Model(doc).Where("d.id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return doc, nil
}

// ListRecent returns up to limit records, newest first by created_at.
// An empty store yields an empty slice, not an error.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Document, error) {
	limit = ClampLimit(limit)
	docs := make([]Document, 0, limit)
	err := s.db.NewSelect().
		Model(&docs).
		OrderExpr("d.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return docs, nil
}

// ClampLimit normalizes a caller-supplied list limit: zero or negative
// becomes the default, anything above the ceiling is capped.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

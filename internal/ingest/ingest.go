package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"document-ingest/internal/db"
	"document-ingest/internal/embedding"
	"document-ingest/internal/extractor"
)

// PreviewLen is the number of characters of parsed text included in an
// upload summary.
const PreviewLen = 200

// Embedder produces a vector for one piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Result, error)
}

// Store persists complete document records.
type Store interface {
	Put(ctx context.Context, doc *db.Document) (string, error)
}

// Summary is the caller-facing outcome of a successful pipeline run.
type Summary struct {
	ID            string    `json:"id"`
	FileName      string    `json:"file_name"`
	Preview       string    `json:"parsed_text_preview"`
	EmbeddingSize int       `json:"embedding_size"`
	CreatedAt     time.Time `json:"created_at"`
}

// Ingestor sequences the extract, embed and store stages for one upload.
// Runs are independent; concurrent uploads share nothing mutable.
type Ingestor struct {
	embedder Embedder
	store    Store
}

func NewIngestor(embedder Embedder, store Store) *Ingestor {
	return &Ingestor{embedder: embedder, store: store}
}

// Ingest runs the pipeline for one uploaded file. The stages execute
// strictly in sequence and no stage is retried; a failure surfaces as a
// StageError naming the stage, and nothing is persisted unless every
// stage succeeded.
func (ing *Ingestor) Ingest(ctx context.Context, fileName string, data []byte, format extractor.Format) (*Summary, error) {
	text, err := extractor.Extract(data, format)
	if err != nil {
		return nil, &StageError{Stage: StageExtraction, Err: err}
	}
	// empty extraction (e.g. a pure-image PDF) is refused before the
	// embedding round trip
	if strings.TrimSpace(text) == "" {
		return nil, &StageError{Stage: StageExtraction, Err: ErrNoTextContent}
	}
	log.Debug().Str("file", fileName).Int("chars", len(text)).Msg("Extracted text")

	result, err := ing.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &StageError{Stage: StageEmbedding, Err: err}
	}
	if result.Truncated {
		// the stored record keeps the full text; only the embedded
		// input was cut
		log.Warn().Str("file", fileName).Int("chars", len(text)).Msg("Text truncated before embedding")
	}

	doc := &db.Document{
		FileName:      fileName,
		FileContent:   data,
		ParsedText:    text,
		Embedding:     result.Vector,
		EmbeddingSize: len(result.Vector),
		CreatedAt:     time.Now().UTC(),
	}

	id, err := ing.store.Put(ctx, doc)
	if err != nil {
		return nil, &StageError{Stage: StageStorage, Err: err}
	}
	log.Info().
		Str("id", id).
		Str("file", fileName).
		Int("embedding_size", doc.EmbeddingSize).
		Msg("Stored document")

	return &Summary{
		ID:            id,
		FileName:      fileName,
		Preview:       Preview(text, PreviewLen),
		EmbeddingSize: doc.EmbeddingSize,
		CreatedAt:     doc.CreatedAt,
	}, nil
}

// Preview returns the first max characters of text, with an ellipsis
// appended when something was cut.
func Preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

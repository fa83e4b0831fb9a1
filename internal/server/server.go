package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"document-ingest/internal/db"
	"document-ingest/internal/embedding"
	"document-ingest/internal/extractor"
	"document-ingest/internal/ingest"
)

// listPreviewLen bounds the parsed-text preview in listing responses;
// shorter than the upload summary preview to keep list payloads small.
const listPreviewLen = 100

// Ingestor runs the upload pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, fileName string, data []byte, format extractor.Format) (*ingest.Summary, error)
}

// DocumentStore serves the retrieval and listing boundaries.
type DocumentStore interface {
	GetByID(ctx context.Context, id string) (*db.Document, error)
	ListRecent(ctx context.Context, limit int) ([]db.Document, error)
}

// Server is the HTTP boundary. It maps requests onto the pipeline and
// store, and error kinds onto distinct status codes.
type Server struct {
	ingestor       Ingestor
	store          DocumentStore
	maxUploadBytes int64
}

func New(ingestor Ingestor, store DocumentStore, maxUploadBytes int64) *Server {
	return &Server{
		ingestor:       ingestor,
		store:          store,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes builds the request mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/documents/upload", s.handleUpload)
	mux.HandleFunc("GET /api/v1/documents", s.handleList)
	mux.HandleFunc("GET /api/v1/documents/{id}", s.handleGet)
	mux.HandleFunc("GET /api/v1/documents/{id}/content", s.handleContent)
	return logRequests(mux)
}

// documentResponse is the boundary view of a record: metadata plus a
// preview, never the raw bytes or the vector.
type documentResponse struct {
	ID            string    `json:"id"`
	FileName      string    `json:"file_name"`
	Preview       string    `json:"parsed_text_preview"`
	EmbeddingSize int       `json:"embedding_size"`
	CreatedAt     time.Time `json:"created_at"`
}

type listResponse struct {
	Documents []documentResponse `json:"documents"`
	Count     int                `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"time_utc": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no filename provided")
		return
	}
	format, err := extractor.FormatFromFilename(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}

	summary, err := s.ingestor.Ingest(r.Context(), header.Filename, data, format)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(doc, ingest.PreviewLen))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := db.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > db.MaxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	docs, err := s.store.ListRecent(r.Context(), limit)
	if err != nil {
		writeStageError(w, err)
		return
	}

	resp := listResponse{Documents: make([]documentResponse, 0, len(docs))}
	for i := range docs {
		resp.Documents = append(resp.Documents, toResponse(&docs[i], listPreviewLen))
	}
	resp.Count = len(resp.Documents)
	writeJSON(w, http.StatusOK, resp)
}

// handleContent serves the stored raw bytes. Markdown documents are
// rendered to HTML for display; the stored record is untouched.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStageError(w, err)
		return
	}

	format, err := extractor.FormatFromFilename(doc.FileName)
	if err == nil && format == extractor.FormatMarkdown {
		if html, renderErr := renderMarkdown(doc.FileContent); renderErr == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(html)
			return
		}
	}

	w.Header().Set("Content-Type", contentTypeFor(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.FileContent)
}

func contentTypeFor(format extractor.Format) string {
	switch format {
	case extractor.FormatPDF:
		return "application/pdf"
	case extractor.FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case extractor.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

func toResponse(doc *db.Document, previewLen int) documentResponse {
	return documentResponse{
		ID:            doc.ID,
		FileName:      doc.FileName,
		Preview:       ingest.Preview(doc.ParsedText, previewLen),
		EmbeddingSize: doc.EmbeddingSize,
		CreatedAt:     doc.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStageError maps a pipeline or store error onto a status code so
// callers can tell bad input from not-found from retry-later.
func writeStageError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var stageErr *ingest.StageError
	if errors.As(err, &stageErr) {
		resp.Stage = string(stageErr.Stage)
	}
	writeJSON(w, statusForError(err), resp)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, extractor.ErrUnsupportedFormat),
		errors.Is(err, extractor.ErrEmptyInput),
		errors.Is(err, ingest.ErrNoTextContent):
		return http.StatusBadRequest
	case errors.Is(err, extractor.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, embedding.ErrRequestRejected):
		return http.StatusBadGateway
	case errors.Is(err, embedding.ErrServiceUnavailable),
		errors.Is(err, db.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("Handled request")
	})
}

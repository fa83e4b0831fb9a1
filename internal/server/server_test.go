package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-ingest/internal/db"
	"document-ingest/internal/embedding"
	"document-ingest/internal/extractor"
	"document-ingest/internal/ingest"
)

type fakeIngestor struct {
	summary  *ingest.Summary
	err      error
	gotName  string
	gotData  []byte
	gotFmt   extractor.Format
	ingested int
}

func (f *fakeIngestor) Ingest(ctx context.Context, fileName string, data []byte, format extractor.Format) (*ingest.Summary, error) {
	f.ingested++
	f.gotName = fileName
	f.gotData = data
	f.gotFmt = format
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type fakeDocStore struct {
	docs map[string]*db.Document
}

func (f *fakeDocStore) GetByID(ctx context.Context, id string) (*db.Document, error) {
	if doc, ok := f.docs[id]; ok {
		return doc, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeDocStore) ListRecent(ctx context.Context, limit int) ([]db.Document, error) {
	docs := make([]db.Document, 0, len(f.docs))
	for _, doc := range f.docs {
		docs = append(docs, *doc)
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func multipartUpload(t *testing.T, fieldName, fileName, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &body, writer.FormDataContentType()
}

func newTestServer(ingestor Ingestor, store DocumentStore) http.Handler {
	return New(ingestor, store, 10<<20).Routes()
}

func TestHandleUpload(t *testing.T) {
	summary := &ingest.Summary{
		ID:            "doc-1",
		FileName:      "hello.txt",
		Preview:       "hello world",
		EmbeddingSize: 4,
		CreatedAt:     time.Now().UTC(),
	}
	ingestor := &fakeIngestor{summary: summary}
	handler := newTestServer(ingestor, &fakeDocStore{})

	body, contentType := multipartUpload(t, "file", "hello.txt", "hello world")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got ingest.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "doc-1", got.ID)
	assert.Equal(t, "hello world", got.Preview)
	assert.Equal(t, 4, got.EmbeddingSize)

	assert.Equal(t, "hello.txt", ingestor.gotName)
	assert.Equal(t, []byte("hello world"), ingestor.gotData)
	assert.Equal(t, extractor.FormatText, ingestor.gotFmt)
}

func TestHandleUploadUnsupportedExtension(t *testing.T) {
	ingestor := &fakeIngestor{}
	handler := newTestServer(ingestor, &fakeDocStore{})

	body, contentType := multipartUpload(t, "file", "binary.exe", "MZ")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ingestor.ingested)
}

func TestHandleUploadEmptyFile(t *testing.T) {
	ingestor := &fakeIngestor{}
	handler := newTestServer(ingestor, &fakeDocStore{})

	body, contentType := multipartUpload(t, "file", "empty.txt", "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ingestor.ingested)
}

func TestHandleUploadMissingFileField(t *testing.T) {
	handler := newTestServer(&fakeIngestor{}, &fakeDocStore{})

	body, contentType := multipartUpload(t, "attachment", "a.txt", "data")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUploadStageErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantStage  string
	}{
		{
			name:       "extraction failed",
			err:        &ingest.StageError{Stage: ingest.StageExtraction, Err: extractor.ErrExtractionFailed},
			wantStatus: http.StatusUnprocessableEntity,
			wantStage:  "extraction",
		},
		{
			name:       "no text content",
			err:        &ingest.StageError{Stage: ingest.StageExtraction, Err: ingest.ErrNoTextContent},
			wantStatus: http.StatusBadRequest,
			wantStage:  "extraction",
		},
		{
			name:       "embedding unavailable",
			err:        &ingest.StageError{Stage: ingest.StageEmbedding, Err: embedding.ErrServiceUnavailable},
			wantStatus: http.StatusServiceUnavailable,
			wantStage:  "embedding",
		},
		{
			name:       "embedding rejected",
			err:        &ingest.StageError{Stage: ingest.StageEmbedding, Err: embedding.ErrRequestRejected},
			wantStatus: http.StatusBadGateway,
			wantStage:  "embedding",
		},
		{
			name:       "storage unavailable",
			err:        &ingest.StageError{Stage: ingest.StageStorage, Err: db.ErrStorageUnavailable},
			wantStatus: http.StatusServiceUnavailable,
			wantStage:  "storage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestServer(&fakeIngestor{err: tt.err}, &fakeDocStore{})

			body, contentType := multipartUpload(t, "file", "doc.txt", "content")
			req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp struct {
				Error string `json:"error"`
				Stage string `json:"stage"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStage, resp.Stage)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestHandleGet(t *testing.T) {
	store := &fakeDocStore{docs: map[string]*db.Document{
		"doc-1": {
			ID:            "doc-1",
			FileName:      "hello.txt",
			FileContent:   []byte("hello world"),
			ParsedText:    strings.Repeat("a", 300),
			Embedding:     []float32{0.1, 0.2, 0.3, 0.4},
			EmbeddingSize: 4,
			CreatedAt:     time.Now().UTC(),
		},
	}}
	handler := newTestServer(&fakeIngestor{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc-1", resp["id"])
	assert.Equal(t, "hello.txt", resp["file_name"])
	// preview is bounded, raw bytes and vector are never exposed
	assert.Len(t, resp["parsed_text_preview"], ingest.PreviewLen+3)
	assert.NotContains(t, resp, "file_content")
	assert.NotContains(t, resp, "embedding")
}

func TestHandleGetNotFound(t *testing.T) {
	handler := newTestServer(&fakeIngestor{}, &fakeDocStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleList(t *testing.T) {
	store := &fakeDocStore{docs: map[string]*db.Document{
		"doc-1": {ID: "doc-1", FileName: "a.txt", ParsedText: "aaa", CreatedAt: time.Now().UTC()},
		"doc-2": {ID: "doc-2", FileName: "b.txt", ParsedText: "bbb", CreatedAt: time.Now().UTC()},
	}}
	handler := newTestServer(&fakeIngestor{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Documents []map[string]any `json:"documents"`
		Count     int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Documents, 2)
}

func TestHandleListLimitValidation(t *testing.T) {
	handler := newTestServer(&fakeIngestor{}, &fakeDocStore{})

	for _, limit := range []string{"0", "-5", "1001", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents?limit="+limit, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestHandleContentMarkdownRendered(t *testing.T) {
	store := &fakeDocStore{docs: map[string]*db.Document{
		"doc-1": {
			ID:          "doc-1",
			FileName:    "readme.md",
			FileContent: []byte("# Title\n\nbody text"),
			ParsedText:  "# Title\n\nbody text",
		},
	}}
	handler := newTestServer(&fakeIngestor{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/content", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<h1")
}

func TestHandleContentPlainText(t *testing.T) {
	store := &fakeDocStore{docs: map[string]*db.Document{
		"doc-1": {
			ID:          "doc-1",
			FileName:    "notes.txt",
			FileContent: []byte("plain content"),
			ParsedText:  "plain content",
		},
	}}
	handler := newTestServer(&fakeIngestor{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/content", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "plain content", rec.Body.String())
}

func TestHandleHealth(t *testing.T) {
	handler := newTestServer(&fakeIngestor{}, &fakeDocStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

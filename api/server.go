// Package api serves the document and question answering workflows over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/fabfab/docqa/chat"
	"github.com/fabfab/docqa/domain"
	"github.com/fabfab/docqa/ingestion"
	"github.com/fabfab/docqa/knowledge"
)

const (
	// multipart parts above this size spill to temporary files.
	maxMultipartMemory = 32 << 20

	// room for multipart boundaries and the text fields next to the file.
	multipartOverhead = 1 << 20
)

// Server exposes the HTTP handlers under /api/v1.
type Server struct {
	documents *ingestion.Service
	chat      *chat.Service
	version   string
	logger    *log.Logger
	handler   http.Handler
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type errorBody struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type documentResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	PageCount   int       `json:"pageCount"`
	ChunkCount  int       `json:"chunkCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type documentDetailResponse struct {
	documentResponse
	Insight *knowledge.Insight `json:"insight,omitempty"`
}

type uploadResponse struct {
	Message  string           `json:"message"`
	Document documentResponse `json:"document"`
	Stats    ingestion.Stats  `json:"stats"`
}

type deleteResponse struct {
	Message    string `json:"message"`
	DocumentID string `json:"documentId"`
}

type historyEntry struct {
	ID         string            `json:"id"`
	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	Confidence domain.Confidence `json:"confidence"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type statsResponse struct {
	CollectionName  string `json:"collectionName"`
	TotalChunkCount int    `json:"totalChunkCount"`
	PersistLocation string `json:"persistLocation"`
}

// New constructs a Server over the ingestion and chat services.
func New(documents *ingestion.Service, chatSvc *chat.Service, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		documents: documents,
		chat:      chatSvc,
		version:   version,
		logger:    logger,
	}
	s.handler = s.logRequests(s.routes())
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /openapi.yaml", s.handleOpenAPI)

	mux.HandleFunc("POST /api/v1/chat/ask", s.handleAsk)
	mux.HandleFunc("GET /api/v1/chat/ask/simple", s.handleAskSimple)
	mux.HandleFunc("GET /api/v1/chat/history", s.handleHistory)

	mux.HandleFunc("POST /api/v1/documents/upload", s.handleUpload)
	mux.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)

	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	return mux
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Printf("request: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: s.version})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req chat.AskRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode request: %w", domain.ErrValidation, err))
		return
	}

	answer, err := s.chat.Ask(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if answer.Sources == nil {
		answer.Sources = []chat.Evidence{}
	}

	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleAskSimple(w http.ResponseWriter, r *http.Request) {
	answer, err := s.chat.AskSimple(r.Context(), r.URL.Query().Get("question"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries, err := s.chat.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]historyEntry, len(entries))
	for i, entry := range entries {
		out[i] = historyEntry{
			ID:         entry.ID,
			Question:   entry.Question,
			Answer:     entry.Answer,
			Confidence: entry.Confidence,
			CreatedAt:  entry.CreatedAt,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.documents.MaxUploadSize()
	if maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, fmt.Errorf("%w: upload exceeds the %d byte limit", domain.ErrValidation, maxSize))
			return
		}
		s.writeError(w, fmt.Errorf("%w: parse multipart form: %w", domain.ErrValidation, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: file is required: %w", domain.ErrValidation, err))
		return
	}
	defer file.Close()

	doc, stats, err := s.documents.Upload(r.Context(), ingestion.UploadRequest{
		FileName:    header.Filename,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Body:        file,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Message:  "Document uploaded and processed successfully",
		Document: toDocumentResponse(doc),
		Stats:    stats,
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeError(w, err)
		return
	}

	docs, err := s.documents.List(r.Context(), skip, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]documentResponse, len(docs))
	for i, doc := range docs {
		out[i] = toDocumentResponse(doc)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	detail, err := s.documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, documentDetailResponse{
		documentResponse: toDocumentResponse(detail.Document),
		Insight:          detail.Insight,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.documents.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, deleteResponse{
		Message:    "Document deleted successfully",
		DocumentID: id,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.documents.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		CollectionName:  stats.CollectionName,
		TotalChunkCount: stats.TotalChunkCount,
		PersistLocation: stats.PersistLocation,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	if stage := chat.FailedStage(err); stage != "" {
		s.logger.Printf("api error (%d, %s): %v", status, stage, err)
	} else {
		s.logger.Printf("api error (%d): %v", status, err)
	}
	s.writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: err.Error()}})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindUnsupportedFormat:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func toDocumentResponse(doc domain.Document) documentResponse {
	return documentResponse{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		FileName:    doc.FileName,
		FileSize:    doc.FileSize,
		PageCount:   doc.PageCount,
		ChunkCount:  doc.ChunkCount,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrValidation, key, raw)
	}
	return value, nil
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

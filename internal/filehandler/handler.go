package filehandler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/cortexgw/cortex/internal/fileset"
	"github.com/cortexgw/cortex/internal/media"
	"github.com/cortexgw/cortex/internal/observability"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// UploadPath is the collaborator protocol's upload/delete endpoint.
const UploadPath = "/api/CortexFileHandler"

// ServePrefix is where stored blobs are served from.
const ServePrefix = "/files/"

// maxUploadBytes bounds one multipart upload.
const maxUploadBytes = 256 << 20

// Handler implements the file-handler wire protocol over a BlobStore.
type Handler struct {
	store  BlobStore
	logger *observability.Logger
}

// NewHandler wires a handler. The logger may be nil.
func NewHandler(store BlobStore, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(UploadPath, h.handleUploadOrDelete)
	mux.HandleFunc(ServePrefix, h.handleServe)
}

type uploadResponse struct {
	URL  string `json:"url"`
	GCS  string `json:"gcs,omitempty"`
	Hash string `json:"hash"`
}

func (h *Handler) handleUploadOrDelete(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleUpload(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		httpError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
	}
}

// handleUpload accepts multipart form data with a file part, an optional
// precomputed hash, and an optional contextId scoping the blob key.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httpError(w, http.StatusBadRequest, "parse multipart form: %v", err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpError(w, http.StatusBadRequest, "missing file part: %v", err)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		httpError(w, http.StatusBadRequest, "read file part: %v", err)
		return
	}

	hash := strings.TrimSpace(r.FormValue("hash"))
	if hash == "" {
		hash = fileset.ContentHash(content)
	}
	key := blobKey(r.FormValue("contextId"), hash, header.Filename)

	location, err := h.store.Put(r.Context(), key, content)
	if err != nil {
		h.logError(r, "store blob", err)
		httpError(w, http.StatusInternalServerError, "store file: %v", err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		URL:  ServePrefix + key,
		GCS:  location,
		Hash: hash,
	})
}

// handleDelete drops the blob behind a previously returned url. Unknown
// blobs answer 404; callers treat that as already gone.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	fileURL := r.URL.Query().Get("url")
	key, ok := keyFromURL(fileURL)
	if !ok {
		httpError(w, http.StatusBadRequest, "invalid url %q", fileURL)
		return
	}
	if err := h.store.Delete(r.Context(), key); err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			httpError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logError(r, "delete blob", err)
		httpError(w, http.StatusInternalServerError, "delete file: %v", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleServe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httpError(w, http.StatusMethodNotAllowed, "method %s not allowed", r.Method)
		return
	}
	key, ok := keyFromURL(r.URL.Path)
	if !ok {
		httpError(w, http.StatusBadRequest, "invalid file path")
		return
	}
	content, err := h.store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			httpError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logError(r, "read blob", err)
		httpError(w, http.StatusInternalServerError, "read file: %v", err)
		return
	}
	w.Header().Set("Content-Type", media.DetectMime(key, content))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(content)
}

// blobKey scopes blobs by context and names them by content hash so
// duplicate uploads land on the same key. The filename contributes only
// its extension, for mime detection on the way back out.
func blobKey(contextID, hash, filename string) string {
	scope := strings.TrimSpace(contextID)
	if scope == "" {
		scope = "shared"
	}
	scope = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, scope)
	return scope + "/" + hash + strings.ToLower(path.Ext(filename))
}

// keyFromURL recovers the blob key from a /files/<key> URL or path.
func keyFromURL(fileURL string) (string, bool) {
	idx := strings.Index(fileURL, ServePrefix)
	if idx < 0 {
		return "", false
	}
	key := fileURL[idx+len(ServePrefix):]
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	if h.logger != nil {
		h.logger.Error(r.Context(), msg, "path", r.URL.Path, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonFast.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonFast.NewEncoder(w).Encode(map[string]any{
		"error": fmt.Sprintf(format, args...),
	})
}

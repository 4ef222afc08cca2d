package fileset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// handlerPath is the file-handler endpoint for uploads and deletes.
const handlerPath = "/api/CortexFileHandler"

// maxErrorBody bounds how much of an error response is quoted back.
const maxErrorBody = 512

// UploadResult is the file handler's response to an upload.
type UploadResult struct {
	URL  string `json:"url"`
	GCS  string `json:"gcs,omitempty"`
	Hash string `json:"hash,omitempty"`
}

// Uploader is the file-handler collaborator surface the manager needs.
// Implemented by Client; tests substitute fakes.
type Uploader interface {
	Upload(ctx context.Context, content []byte, filename, hash, contextID string) (UploadResult, error)
	Download(ctx context.Context, fileURL string) ([]byte, error)
	Delete(ctx context.Context, fileURL string) error
}

// Client talks to the file-handler service (external or embedded) that
// owns raw file bytes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the handler at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload posts content as multipart form data and returns the stored
// location. The hash and context id ride along so the handler can
// deduplicate and scope blobs.
func (c *Client) Upload(ctx context.Context, content []byte, filename, hash, contextID string) (UploadResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if hash != "" {
		if err := w.WriteField("hash", hash); err != nil {
			return UploadResult{}, fmt.Errorf("build upload form: %w", err)
		}
	}
	if contextID != "" {
		if err := w.WriteField("contextId", contextID); err != nil {
			return UploadResult{}, fmt.Errorf("build upload form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+handlerPath, &body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return UploadResult{}, fmt.Errorf("upload file: handler returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	if result.URL == "" {
		return UploadResult{}, fmt.Errorf("upload response missing url")
	}
	return result, nil
}

// Download fetches file bytes from the URL a record carries. Relative
// URLs resolve against the handler base.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(fileURL), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download file: handler returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	return content, nil
}

// Delete asks the handler to drop the blob at fileURL. Unknown blobs are
// not an error; edits delete the previous version best-effort.
func (c *Client) Delete(ctx context.Context, fileURL string) error {
	target := c.baseURL + handlerPath + "?url=" + url.QueryEscape(fileURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete file: handler returned %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return nil
}

func (c *Client) resolve(fileURL string) string {
	if strings.HasPrefix(fileURL, "/") {
		return c.baseURL + fileURL
	}
	return fileURL
}

func readErrorBody(r io.Reader) string {
	snippet, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(snippet))
}

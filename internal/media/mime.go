package media

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectMime resolves the MIME type of an upload from its filename
// extension, sniffing the leading bytes when the extension is unknown.
// Common document and media extensions are resolved locally so results
// do not depend on the host's mime tables.
func DetectMime(filename string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".mp4":
		return "video/mp4"
	}

	if typ := mime.TypeByExtension(ext); typ != "" {
		return typ
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}

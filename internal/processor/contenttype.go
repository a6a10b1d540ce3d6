package processor

import (
	"path"
	"strings"
)

// contentTypes is the fixed extension to MIME mapping published tour files
// are served with. Unrecognized extensions fall back to octet-stream.
var contentTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".js":    "application/javascript",
	".css":   "text/css",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".json":  "application/json",
	".mp4":   "video/mp4",
	".mov":   "video/quicktime",
	".avi":   "video/x-msvideo",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
}

// ContentTypeFor returns the MIME type a published file is served with,
// derived from its extension.
func ContentTypeFor(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if mime, ok := contentTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

package compressor

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// Encoding is the Content-Encoding token used for LZ4 frame bodies.
const Encoding = "lz4"

var skipExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".zip": true, ".rar": true, ".7z": true, ".gz": true, ".lz4": true,
	".mp3": true, ".flac": true, ".aac": true,
	".apk": true, ".iso": true,
}

func ShouldSkipCompression(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	return skipExtensions[ext]
}

// Accepts reports whether an Accept-Encoding header value lists lz4.
func Accepts(acceptEncoding string) bool {
	for _, token := range strings.Split(acceptEncoding, ",") {
		token = strings.TrimSpace(token)
		if i := strings.IndexByte(token, ';'); i >= 0 {
			token = strings.TrimSpace(token[:i])
		}
		if strings.EqualFold(token, Encoding) {
			return true
		}
	}
	return false
}

// NewWriter returns a writer producing an LZ4 frame on w. Close flushes the
// frame footer but does not close w.
func NewWriter(w io.Writer) io.WriteCloser {
	return lz4.NewWriter(w)
}

// NewReader decodes an LZ4 frame from r.
func NewReader(r io.Reader) io.Reader {
	return lz4.NewReader(r)
}

package constants

import "strings"

// BlockLabel classifies a normalized layout block. The set is closed; any
// provider-native label is mapped to the closest of these four.
type BlockLabel string

const (
	BlockText    BlockLabel = "text"
	BlockFormula BlockLabel = "formula"
	BlockTable   BlockLabel = "table"
	BlockImage   BlockLabel = "image"
)

// AllowedMimeTypes holds the upload mime types the run endpoints accept.
var AllowedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
	"image/webp":      {},
}

// NormalizeMime lowercases a mime type and strips any parameters
// (e.g. "image/PNG; charset=binary" -> "image/png").
func NormalizeMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

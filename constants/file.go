package constants

import "strings"

// AllowedExtensions holds the raster formats accepted for OCR ingestion.
var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
}

// AllowedMIMETypes maps sniffed MIME types to acceptance. The declared MIME
// from the upload handler is advisory; the sniffed type is authoritative.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/bmp":  {},
	"image/tiff": {},
}

// Default validation bounds. The byte cap and dimension window are
// configurable; these are the fallbacks when config leaves them zero.
const (
	DefaultMaxFileBytes = 10 << 20 // 10 MiB
	DefaultMinDimension = 50
	DefaultMaxDimension = 10000
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

package validate

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	// Register decoders for DecodeConfig sniffing.
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/fieldline/crm-ocr/constants"
)

// Limits bounds accepted input images.
type Limits struct {
	MaxFileBytes int64
	MinDimension int
	MaxDimension int
}

// DefaultLimits returns the fallback bounds from constants.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes: constants.DefaultMaxFileBytes,
		MinDimension: constants.DefaultMinDimension,
		MaxDimension: constants.DefaultMaxDimension,
	}
}

// Result reports the validation outcome. Reason is set only when OK is false.
type Result struct {
	OK       bool
	Reason   string
	Width    int
	Height   int
	MimeType string
}

func reject(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Check gatekeeps a stored image before any expensive work. Checks run in
// order and fail fast: existence, extension and sniffed MIME against the
// allow-list, byte size, raster dimensions, and finally decodability.
// Expected bad input never raises; it comes back as a structured rejection.
func Check(path string, limits Limits) Result {
	info, err := os.Stat(path)
	if err != nil {
		return reject("file not found: %s", path)
	}
	if info.IsDir() {
		return reject("path is a directory: %s", path)
	}
	if info.Size() == 0 {
		return reject("file is empty")
	}

	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return reject("unsupported file extension: %q", ext)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return reject("cannot sniff file type: %v", err)
	}
	if _, ok := constants.AllowedMIMETypes[mtype.String()]; !ok {
		return reject("unsupported content type: %s", mtype.String())
	}

	if info.Size() > limits.MaxFileBytes {
		return reject("file size %d exceeds limit %d", info.Size(), limits.MaxFileBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return reject("cannot open file: %v", err)
	}
	cfg, _, err := image.DecodeConfig(f)
	_ = f.Close()
	if err != nil {
		return reject("cannot read image header: %v", err)
	}
	if cfg.Width < limits.MinDimension || cfg.Height < limits.MinDimension {
		return reject("image %dx%d below minimum dimension %d", cfg.Width, cfg.Height, limits.MinDimension)
	}
	if cfg.Width > limits.MaxDimension || cfg.Height > limits.MaxDimension {
		return reject("image %dx%d above maximum dimension %d", cfg.Width, cfg.Height, limits.MaxDimension)
	}

	// A correct name and header is not enough; confirm the pixel data decodes.
	if _, err := imaging.Open(path); err != nil {
		return reject("image is not decodable: %v", err)
	}

	return Result{
		OK:       true,
		Width:    cfg.Width,
		Height:   cfg.Height,
		MimeType: mtype.String(),
	}
}

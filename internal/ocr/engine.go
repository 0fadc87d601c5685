package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fieldline/crm-ocr/internal/common"
)

// Engine turns a preprocessed bitmap into raw text. Implementations are
// external capabilities, not algorithmically interesting themselves.
type Engine interface {
	Name() string
	ExtractText(ctx context.Context, bitmap *image.Gray) (string, error)
}

// Config configures the Tesseract-backed engine.
type Config struct {
	Tesseract   string // binary name or absolute path; empty -> "tesseract"
	Languages   string // "+"-joined tesseract language set, default "eng"
	TessdataDir string

	PSM int // page segmentation mode; 6 suits a uniform block of text
	OEM int // 1 = LSTM; 0 uses the tesseract default

	// MinTextLength is the insufficient-content floor. A result under it is
	// an extraction failure, not an empty-but-valid result; it almost always
	// means the image was unreadable rather than blank.
	MinTextLength int
}

// TesseractEngine shells out to tesseract over a temp PNG of the bitmap.
type TesseractEngine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseractEngine(cfg Config, logger *slog.Logger) *TesseractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Languages == "" {
		cfg.Languages = "eng"
	}
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = 10
	}
	return &TesseractEngine{cfg: cfg, runner: execRunner{}, logger: logger}
}

// WithRunner swaps the command runner; tests use this to stub tesseract.
func (e *TesseractEngine) WithRunner(r Runner) *TesseractEngine {
	e.runner = r
	return e
}

func (e *TesseractEngine) Name() string {
	return "tesseract"
}

// ExtractText runs one OCR pass and returns the normalized full text as a
// single string. Documents here are small and single-page, so no streaming.
func (e *TesseractEngine) ExtractText(ctx context.Context, bitmap *image.Gray) (string, error) {
	tmpDir, err := os.MkdirTemp("", "ocr-*")
	if err != nil {
		return "", fmt.Errorf("tmp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	in := filepath.Join(tmpDir, "page.png")
	f, err := os.Create(in)
	if err != nil {
		return "", fmt.Errorf("tmp file: %w", err)
	}
	if err := png.Encode(f, bitmap); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("encode bitmap: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	args := []string{in, "stdout", "-l", e.cfg.Languages}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w (stderr: %s)", err, truncate(string(errb), 512))
	}

	text := Normalize(string(out))
	if len(text) < e.cfg.MinTextLength {
		e.logger.Warn("ocr produced too little text", "bytes", len(text), "min", e.cfg.MinTextLength)
		return "", fmt.Errorf("%w: got %d characters", common.ErrInsufficientContent, len(text))
	}
	return text, nil
}

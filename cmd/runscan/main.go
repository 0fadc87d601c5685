package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fieldline/crm-ocr/internal/logging"
	"github.com/fieldline/crm-ocr/internal/ocr"
	"github.com/fieldline/crm-ocr/internal/parse"
	"github.com/fieldline/crm-ocr/internal/preprocess"
	"github.com/fieldline/crm-ocr/internal/validate"
)

// runscan runs the full extraction pipeline on one image without a
// database or queue, printing the structured result as JSON.
func main() {
	var (
		tesseract = flag.String("tesseract", "tesseract", "tesseract binary")
		languages = flag.String("lang", "eng", "tesseract language codes")
		level     = flag.String("log-level", "info", "log level")
		rawOut    = flag.Bool("raw", false, "also print the raw OCR text")
		vendors   = flag.String("vendors", "", "replace the vendor lookup table, as needle=Name pairs separated by commas")
	)
	flag.Parse()

	logger := logging.New(*level, "console")
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		logger.Error("usage: runscan [flags] <image-path>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	vres := validate.Check(path, validate.DefaultLimits())
	if !vres.OK {
		logger.Error("file rejected", "path", path, "reason", vres.Reason)
		os.Exit(1)
	}
	logger.Info("file accepted",
		"path", path,
		"mime_type", vres.MimeType,
		"width", vres.Width,
		"height", vres.Height,
	)

	pre := preprocess.New(preprocess.Config{}, logger)

	start := time.Now()
	processed, err := pre.FromFile(path)
	if err != nil {
		logger.Error("image load failed", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	engine := ocr.NewTesseractEngine(ocr.Config{
		Tesseract: *tesseract,
		Languages: *languages,
	}, logger)
	text, err := engine.ExtractText(ctx, processed)
	if err != nil {
		logger.Error("text extraction failed", "path", path, "error", err)
		os.Exit(1)
	}

	extractor := parse.NewExtractor(logger)
	if *vendors != "" {
		table, err := parseVendorTable(*vendors)
		if err != nil {
			logger.Error("bad -vendors value", "error", err)
			os.Exit(2)
		}
		extractor = extractor.WithVendors(table)
	}
	data, confidence := extractor.Extract(text)
	elapsed := time.Since(start)

	logger.Info("extraction finished",
		"duration_ms", elapsed.Milliseconds(),
		"confidence", confidence,
		"chars", len(text),
	)

	if *rawOut {
		fmt.Println("--- raw text ---")
		fmt.Println(text)
		fmt.Println("--- parsed ---")
	}
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		logger.Error("marshal result", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// parseVendorTable turns "needle=Name,needle=Name" into a lookup table.
// Needles are matched against lowercased text, so they are lowercased here.
func parseVendorTable(s string) (map[string]string, error) {
	table := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		needle, name, ok := strings.Cut(pair, "=")
		needle = strings.ToLower(strings.TrimSpace(needle))
		name = strings.TrimSpace(name)
		if !ok || needle == "" || name == "" {
			return nil, fmt.Errorf("malformed vendor entry %q, want needle=Name", pair)
		}
		table[needle] = name
	}
	return table, nil
}

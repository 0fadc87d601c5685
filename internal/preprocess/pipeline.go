package preprocess

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/disintegration/imaging"
)

// Config tunes the preprocessing stages. Zero values fall back to defaults.
type Config struct {
	// MaxDimension caps the largest side before the expensive stages run.
	MaxDimension int
	// DeskewThresholdDeg is the minimum detected tilt worth correcting.
	// Rotating an already-level image only smears the strokes.
	DeskewThresholdDeg float64
	// DenoiseStrength is the filtering parameter h of the non-local-means
	// stage; higher removes more noise and more texture.
	DenoiseStrength float64
	// TileSize and ClipLimit drive the local contrast enhancement.
	TileSize  int
	ClipLimit float64
	// BinarizeWindow and BinarizeBias drive the adaptive threshold.
	BinarizeWindow int
	BinarizeBias   float64
}

func DefaultConfig() Config {
	return Config{
		MaxDimension:       2200,
		DeskewThresholdDeg: 0.5,
		DenoiseStrength:    10,
		TileSize:           64,
		ClipLimit:          2.5,
		BinarizeWindow:     31,
		BinarizeBias:       0.15,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxDimension <= 0 {
		c.MaxDimension = d.MaxDimension
	}
	if c.DeskewThresholdDeg <= 0 {
		c.DeskewThresholdDeg = d.DeskewThresholdDeg
	}
	if c.DenoiseStrength <= 0 {
		c.DenoiseStrength = d.DenoiseStrength
	}
	if c.TileSize <= 0 {
		c.TileSize = d.TileSize
	}
	if c.ClipLimit <= 0 {
		c.ClipLimit = d.ClipLimit
	}
	if c.BinarizeWindow <= 0 {
		c.BinarizeWindow = d.BinarizeWindow
	}
	if c.BinarizeBias <= 0 {
		c.BinarizeBias = d.BinarizeBias
	}
}

// Pipeline is the fixed, ordered image-enhancement chain for phone-photographed
// receipts. Each stage compensates for one specific degradation; the order is
// deliberate: denoise before contrast enhancement (else noise is amplified) and
// deskew before binarization (else tilted strokes fragment after thresholding).
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Pipeline{cfg: cfg, logger: logger}
}

// FromFile decodes and runs the full pipeline for a stored image.
func (p *Pipeline) FromFile(path string) (*image.Gray, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return p.Run(src), nil
}

// Run executes all six stages and returns the binarized bitmap.
func (p *Pipeline) Run(src image.Image) *image.Gray {
	start := time.Now()

	g := ToGray(src)
	g = p.downscale(g)
	g = Denoise(g, p.cfg.DenoiseStrength)
	g = Equalize(g, p.cfg.TileSize, p.cfg.ClipLimit)

	angle := DetectSkew(g)
	if math.Abs(angle) > p.cfg.DeskewThresholdDeg {
		p.logger.Debug("deskewing", "angle_deg", angle)
		g = Rotate(g, -angle)
	}

	g = Binarize(g, p.cfg.BinarizeWindow, p.cfg.BinarizeBias)

	p.logger.Debug("preprocess done",
		"width", g.Bounds().Dx(),
		"height", g.Bounds().Dy(),
		"skew_deg", angle,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return g
}

// downscale shrinks the image so its largest side fits MaxDimension, using a
// Box (area-averaging) filter to avoid the aliasing a nearest-neighbor resize
// would introduce. Aspect ratio is preserved.
func (p *Pipeline) downscale(g *image.Gray) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= p.cfg.MaxDimension {
		return g
	}
	scale := float64(p.cfg.MaxDimension) / float64(longest)
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	resized := imaging.Resize(g, nw, nh, imaging.Box)
	return ToGray(resized)
}

package preprocess

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// levelStripes draws horizontal dark lines on a light background, with a
// margin so rotation artifacts stay away from the borders.
func levelStripes(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 230
	}
	for y := 60; y < h-60; y += 24 {
		for t := 0; t < 3; t++ {
			for x := 60; x < w-60; x++ {
				g.Pix[(y+t)*g.Stride+x] = 20
			}
		}
	}
	return g
}

func TestToGray(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	g := ToGray(img)
	assert.Equal(t, uint8(76), g.Pix[0]) // Rec.601 red luma
	assert.Equal(t, uint8(255), g.Pix[1])
}

func TestDetectSkewLevelImage(t *testing.T) {
	angle := DetectSkew(levelStripes(400, 300))
	assert.LessOrEqual(t, math.Abs(angle), 0.5, "level image must not trigger rotation")
}

func TestDetectSkewRecoversKnownTilt(t *testing.T) {
	tilted := Rotate(levelStripes(400, 300), 3.0)
	angle := DetectSkew(tilted)
	assert.InDelta(t, 3.0, angle, 0.6)
}

func TestRotateZeroIsIdentity(t *testing.T) {
	src := levelStripes(200, 160)
	out := Rotate(src, 0)
	assert.Equal(t, src.Pix, out.Pix)
}

func TestRotatePreservesBounds(t *testing.T) {
	out := Rotate(levelStripes(211, 97), 7.5)
	assert.Equal(t, 211, out.Bounds().Dx())
	assert.Equal(t, 97, out.Bounds().Dy())
}

func TestBinarizeSeparatesInkFromPaper(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range g.Pix {
		g.Pix[i] = 200
	}
	for y := 40; y < 60; y++ {
		for x := 40; x < 60; x++ {
			g.Pix[y*g.Stride+x] = 30
		}
	}

	out := Binarize(g, 31, 0.15)
	assert.Equal(t, uint8(0), out.Pix[50*out.Stride+50], "dark patch center is ink")
	assert.Equal(t, uint8(255), out.Pix[5*out.Stride+5], "far background is paper")
}

func TestBinarizeUniformImageIsAllPaper(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 40, 40))
	for i := range g.Pix {
		g.Pix[i] = 180
	}
	out := Binarize(g, 15, 0.15)
	for _, v := range out.Pix {
		require.Equal(t, uint8(255), v)
	}
}

func TestEqualizeKeepsShapeAndIsDeterministic(t *testing.T) {
	g := levelStripes(128, 128)
	a := Equalize(g, 64, 2.5)
	b := Equalize(g, 64, 2.5)
	assert.Equal(t, g.Bounds(), a.Bounds())
	assert.Equal(t, a.Pix, b.Pix)
}

func TestDownscaleCapsLongestSide(t *testing.T) {
	p := New(Config{MaxDimension: 100}, nil)
	g := image.NewGray(image.Rect(0, 0, 500, 300))
	out := p.downscale(g)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 60, out.Bounds().Dy())

	small := image.NewGray(image.Rect(0, 0, 80, 40))
	assert.Equal(t, small, p.downscale(small))
}

func TestRunProducesBilevelBitmap(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 240, 180))
	for y := 0; y < 180; y++ {
		for x := 0; x < 240; x++ {
			src.Set(x, y, color.RGBA{R: 235, G: 230, B: 225, A: 255})
		}
	}
	for y := 60; y < 66; y++ {
		for x := 40; x < 200; x++ {
			src.Set(x, y, color.RGBA{R: 25, G: 20, B: 20, A: 255})
		}
	}

	out := New(Config{}, nil).Run(src)
	require.Equal(t, src.Bounds().Dx(), out.Bounds().Dx())
	require.Equal(t, src.Bounds().Dy(), out.Bounds().Dy())
	for _, v := range out.Pix {
		require.True(t, v == 0 || v == 255, "binarized output must be bilevel, got %d", v)
	}
}

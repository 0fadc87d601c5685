package preprocess

import (
	"image"
	"image/color"
)

// ToGray converts any decoded image to single-channel intensity. Color carries
// no OCR-relevant signal and doubles the cost of every later stage.
func ToGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			// Rec. 601 luma over 16-bit channels, scaled back to 8-bit.
			lum := (299*r + 587*g + 114*bl) / 1000 >> 8
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: uint8(lum)})
		}
	}
	return out
}

package preprocess

import "image"

// Binarize thresholds the bitmap adaptively: each pixel is compared against
// the mean of its surrounding window minus a bias fraction. A single global
// threshold cannot survive the illumination gradient across a photographed
// page; the local mean follows the gradient. Implemented with an integral
// image so the window size does not affect cost.
func Binarize(g *image.Gray, window int, bias float64) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if w == 0 || h == 0 {
		return g
	}
	if window < 3 {
		window = 3
	}
	r := window / 2

	// integral[y][x] = sum of all pixels above and left of (x,y), exclusive.
	integral := make([]uint64, (w+1)*(h+1))
	stride := w + 1
	for y := 0; y < h; y++ {
		var rowSum uint64
		for x := 0; x < w; x++ {
			rowSum += uint64(g.Pix[y*g.Stride+x])
			integral[(y+1)*stride+x+1] = integral[y*stride+x+1] + rowSum
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		y0, y1 := y-r, y+r+1
		if y0 < 0 {
			y0 = 0
		}
		if y1 > h {
			y1 = h
		}
		for x := 0; x < w; x++ {
			x0, x1 := x-r, x+r+1
			if x0 < 0 {
				x0 = 0
			}
			if x1 > w {
				x1 = w
			}
			count := uint64((y1 - y0) * (x1 - x0))
			sum := integral[y1*stride+x1] - integral[y0*stride+x1] -
				integral[y1*stride+x0] + integral[y0*stride+x0]

			v := uint64(g.Pix[y*g.Stride+x])
			// Pixel darker than the biased local mean -> ink.
			if float64(v)*float64(count) < float64(sum)*(1-bias) {
				out.Pix[y*out.Stride+x] = 0
			} else {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

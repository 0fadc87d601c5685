package preprocess

import (
	"image"
	"math"
)

// Non-local means parameters. A small patch compared against a bounded search
// window keeps the cost tolerable on receipt-sized images while still
// averaging across repeated texture instead of just the local neighborhood,
// which is what preserves character edges.
const (
	nlmPatchRadius  = 1 // 3x3 patches
	nlmSearchRadius = 5 // 11x11 search window
)

// Denoise removes sensor noise with a simplified non-local-means filter.
// h is the filtering strength; values around 10 suit phone camera noise.
func Denoise(g *image.Gray, h float64) *image.Gray {
	w := g.Bounds().Dx()
	ht := g.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, ht))

	h2 := h * h
	patchArea := float64((2*nlmPatchRadius + 1) * (2*nlmPatchRadius + 1))

	for y := 0; y < ht; y++ {
		for x := 0; x < w; x++ {
			var sum, weightSum float64
			for dy := -nlmSearchRadius; dy <= nlmSearchRadius; dy++ {
				for dx := -nlmSearchRadius; dx <= nlmSearchRadius; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= ht {
						continue
					}
					d2 := patchDistance(g, x, y, nx, ny, w, ht) / patchArea
					wgt := math.Exp(-d2 / h2)
					sum += wgt * float64(g.GrayAt(nx, ny).Y)
					weightSum += wgt
				}
			}
			if weightSum > 0 {
				out.Pix[y*out.Stride+x] = uint8(sum/weightSum + 0.5)
			} else {
				out.Pix[y*out.Stride+x] = g.GrayAt(x, y).Y
			}
		}
	}
	return out
}

// patchDistance is the summed squared difference between the patches centered
// at (x0,y0) and (x1,y1), clamping coordinates at the image border.
func patchDistance(g *image.Gray, x0, y0, x1, y1, w, h int) float64 {
	var d2 float64
	for py := -nlmPatchRadius; py <= nlmPatchRadius; py++ {
		for px := -nlmPatchRadius; px <= nlmPatchRadius; px++ {
			a := float64(grayAtClamped(g, x0+px, y0+py, w, h))
			b := float64(grayAtClamped(g, x1+px, y1+py, w, h))
			diff := a - b
			d2 += diff * diff
		}
	}
	return d2
}

func grayAtClamped(g *image.Gray, x, y, w, h int) uint8 {
	if x < 0 {
		x = 0
	} else if x >= w {
		x = w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= h {
		y = h - 1
	}
	return g.Pix[y*g.Stride+x]
}

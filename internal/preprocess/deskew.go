package preprocess

import (
	"image"
	"math"
	"sort"
)

// Skew detection parameters. Receipts photographed by hand are tilted a few
// degrees at most; limiting the sweep keeps the accumulator small and stops
// vertical table rules from dominating the vote.
const (
	skewMaxDeg     = 15.0
	skewStepDeg    = 0.25
	skewPeakCount  = 21 // odd, so the median is a single accumulator peak
	edgeThreshold  = 96
	maxEdgeSamples = 40000
)

// DetectSkew estimates the rotation of the text lines in degrees. Positive
// means the content is rotated counter-clockwise. The estimate comes from a
// Hough-style angle accumulation over edge pixels: each near-horizontal line
// hypothesis collects votes, and the median angle of the strongest peaks wins,
// which is robust against a few spurious diagonal edges.
func DetectSkew(g *image.Gray) float64 {
	edges := sobelEdges(g)
	if len(edges) < 32 {
		return 0
	}

	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	diag := int(math.Hypot(float64(w), float64(h))) + 1
	angles := int(2*skewMaxDeg/skewStepDeg) + 1

	// acc[a][rho+diag] counts edge pixels on the line at angle a, offset rho.
	acc := make([][]int32, angles)
	for i := range acc {
		acc[i] = make([]int32, 2*diag+1)
	}

	sin := make([]float64, angles)
	cos := make([]float64, angles)
	for a := 0; a < angles; a++ {
		deg := -skewMaxDeg + float64(a)*skewStepDeg
		rad := deg * math.Pi / 180
		sin[a] = math.Sin(rad)
		cos[a] = math.Cos(rad)
	}

	for _, pt := range edges {
		x, y := float64(pt.X), float64(pt.Y)
		for a := 0; a < angles; a++ {
			// Distance form for a near-horizontal line tilted by the angle.
			rho := int(math.Round(y*cos[a] - x*sin[a]))
			acc[a][rho+diag]++
		}
	}

	type peak struct {
		votes int32
		angle float64
	}
	peaks := make([]peak, 0, angles*4)
	for a := 0; a < angles; a++ {
		deg := -skewMaxDeg + float64(a)*skewStepDeg
		for _, v := range acc[a] {
			if v > 0 {
				peaks = append(peaks, peak{votes: v, angle: deg})
			}
		}
	}
	if len(peaks) == 0 {
		return 0
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].votes > peaks[j].votes })

	n := skewPeakCount
	if n > len(peaks) {
		n = len(peaks)
	}
	candidates := make([]float64, n)
	for i := 0; i < n; i++ {
		candidates[i] = peaks[i].angle
	}
	sort.Float64s(candidates)
	return candidates[n/2]
}

type point struct{ X, Y int }

// sobelEdges returns a bounded sample of strong-gradient pixels.
func sobelEdges(g *image.Gray) []point {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	var pts []point
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			p := func(dx, dy int) int { return int(g.Pix[(y+dy)*g.Stride+x+dx]) }
			gx := -p(-1, -1) - 2*p(-1, 0) - p(-1, 1) + p(1, -1) + 2*p(1, 0) + p(1, 1)
			gy := -p(-1, -1) - 2*p(0, -1) - p(1, -1) + p(-1, 1) + 2*p(0, 1) + p(1, 1)
			if gx < 0 {
				gx = -gx
			}
			if gy < 0 {
				gy = -gy
			}
			if gx+gy > edgeThreshold*2 {
				pts = append(pts, point{X: x, Y: y})
			}
		}
	}
	if len(pts) > maxEdgeSamples {
		// Uniform decimation keeps the vote distribution intact.
		step := len(pts) / maxEdgeSamples
		sampled := make([]point, 0, maxEdgeSamples)
		for i := 0; i < len(pts); i += step {
			sampled = append(sampled, pts[i])
		}
		pts = sampled
	}
	return pts
}

// Rotate rotates the bitmap by the given angle in degrees around its center
// with bilinear sampling. Out-of-frame samples replicate the nearest edge
// pixel instead of filling black; a black frame would later binarize into
// fake content along the borders.
func Rotate(g *image.Gray, deg float64) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))

	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx, cy := float64(w-1)/2, float64(h-1)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Inverse mapping: where does this output pixel come from?
			dx, dy := float64(x)-cx, float64(y)-cy
			sx := cx + dx*cos + dy*sin
			sy := cy - dx*sin + dy*cos
			out.Pix[y*out.Stride+x] = bilinearClamped(g, sx, sy, w, h)
		}
	}
	return out
}

func bilinearClamped(g *image.Gray, x, y float64, w, h int) uint8 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	v00 := float64(grayAtClamped(g, x0, y0, w, h))
	v01 := float64(grayAtClamped(g, x0+1, y0, w, h))
	v10 := float64(grayAtClamped(g, x0, y0+1, w, h))
	v11 := float64(grayAtClamped(g, x0+1, y0+1, w, h))

	top := v00*(1-fx) + v01*fx
	bot := v10*(1-fx) + v11*fx
	return uint8(top*(1-fy) + bot*fy + 0.5)
}

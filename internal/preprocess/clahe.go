package preprocess

import "image"

// Equalize applies contrast-limited adaptive histogram equalization. The image
// is split into tiles of roughly tileSize pixels; each tile gets its own
// clipped-histogram remapping, and pixels interpolate bilinearly between the
// four surrounding tile mappings. Local equalization corrects uneven lighting
// across the receipt, and the clip limit keeps already-bright regions from
// blowing out.
func Equalize(g *image.Gray, tileSize int, clipLimit float64) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if w == 0 || h == 0 {
		return g
	}
	if tileSize < 16 {
		tileSize = 16
	}

	tilesX := (w + tileSize - 1) / tileSize
	tilesY := (h + tileSize - 1) / tileSize
	if tilesX < 1 {
		tilesX = 1
	}
	if tilesY < 1 {
		tilesY = 1
	}

	// Per-tile remapping LUTs.
	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileSize, ty*tileSize
			x1, y1 := min(x0+tileSize, w), min(y0+tileSize, h)
			luts[ty*tilesX+tx] = tileLUT(g, x0, y0, x1, y1, clipLimit)
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		// Position of the pixel relative to tile centers.
		fy := (float64(y) - float64(tileSize)/2) / float64(tileSize)
		ty0 := int(fy)
		if fy < 0 {
			ty0 = -1
		}
		ty1 := ty0 + 1
		wy := fy - float64(ty0)
		ty0c, ty1c := clampTile(ty0, tilesY), clampTile(ty1, tilesY)

		for x := 0; x < w; x++ {
			fx := (float64(x) - float64(tileSize)/2) / float64(tileSize)
			tx0 := int(fx)
			if fx < 0 {
				tx0 = -1
			}
			tx1 := tx0 + 1
			wx := fx - float64(tx0)
			tx0c, tx1c := clampTile(tx0, tilesX), clampTile(tx1, tilesX)

			v := g.Pix[y*g.Stride+x]
			v00 := float64(luts[ty0c*tilesX+tx0c][v])
			v01 := float64(luts[ty0c*tilesX+tx1c][v])
			v10 := float64(luts[ty1c*tilesX+tx0c][v])
			v11 := float64(luts[ty1c*tilesX+tx1c][v])

			top := v00*(1-wx) + v01*wx
			bot := v10*(1-wx) + v11*wx
			out.Pix[y*out.Stride+x] = uint8(top*(1-wy) + bot*wy + 0.5)
		}
	}
	return out
}

// tileLUT builds the clipped-histogram equalization mapping for one tile.
func tileLUT(g *image.Gray, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	n := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[g.Pix[y*g.Stride+x]]++
			n++
		}
	}

	var lut [256]uint8
	if n == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	// Clip the histogram and redistribute the excess uniformly.
	limit := int(clipLimit * float64(n) / 256)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	share := excess / 256
	rem := excess % 256
	for i := range hist {
		hist[i] += share
		if i < rem {
			hist[i]++
		}
	}

	// Cumulative mapping.
	cum := 0
	for i := range hist {
		cum += hist[i]
		lut[i] = uint8((cum*255 + n/2) / n)
	}
	return lut
}

func clampTile(t, n int) int {
	if t < 0 {
		return 0
	}
	if t >= n {
		return n - 1
	}
	return t
}

package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/expensobot/receipts-engine/internal/common"
)

const (
	// Skew below this magnitude is noise from the moment estimator; rotating
	// for it only blurs edges.
	skewEpsilonDeg = 0.1
	maxSkewDeg     = 45.0

	equalizeTiles = 8
	clipLimit     = 3.0
)

// Preprocess decodes raw receipt bytes (PDF first page, HEIC, or standard
// raster formats) and cleans the image for recognition: grayscale, median
// denoise, deskew, local contrast equalization, Otsu binarization.
func Preprocess(data []byte) (*image.Gray, error) {
	img, err := decode(data)
	if err != nil {
		return nil, common.WrapError(common.ErrDecode, err.Error())
	}

	gray := toGray(img)
	den := medianFilter(gray)

	if angle := skewAngle(den); math.Abs(angle) > skewEpsilonDeg {
		rotated := imaging.Rotate(den, angle, color.White)
		den = toGray(rotated)
	}

	eq := equalizeLocal(den)
	return otsuBinarize(eq), nil
}

func decode(data []byte) (image.Image, error) {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return decodePDF(data)
	case isHEIC(data):
		return heic.Decode(bytes.NewReader(data))
	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		return img, err
	}
}

func decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()
	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("render pdf page: %w", err)
	}
	return img, nil
}

// isHEIC sniffs the ISO-BMFF ftyp box for HEIC/HEIF brands.
func isHEIC(data []byte) bool {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return false
	}
	brand := string(data[8:12])
	switch brand {
	case "heic", "heix", "heim", "heis", "hevc", "mif1", "msf1":
		return true
	}
	return false
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}

// medianFilter applies a 3x3 median, which removes salt-and-pepper noise from
// thermal-paper scans without smearing glyph edges like a box blur would.
func medianFilter(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	var window [9]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || yy >= h || xx < 0 || xx >= w {
						continue
					}
					window[n] = int(src.GrayAt(xx, yy).Y)
					n++
				}
			}
			win := window[:n]
			sort.Ints(win)
			out.SetGray(x, y, color.Gray{Y: uint8(win[n/2])})
		}
	}
	return out
}

// skewAngle estimates document skew in degrees from second central moments of
// the dark-pixel mass. Positive result is the counter-clockwise rotation that
// levels the text.
func skewAngle(src *image.Gray) float64 {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	const darkThreshold = 128
	var m00, m10, m01 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if src.GrayAt(x, y).Y < darkThreshold {
				m00++
				m10 += float64(x)
				m01 += float64(y)
			}
		}
	}
	if m00 == 0 {
		return 0
	}
	cx, cy := m10/m00, m01/m00

	var mu20, mu02, mu11 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if src.GrayAt(x, y).Y < darkThreshold {
				dx, dy := float64(x)-cx, float64(y)-cy
				mu20 += dx * dx
				mu02 += dy * dy
				mu11 += dx * dy
			}
		}
	}
	if mu20 == mu02 && mu11 == 0 {
		return 0
	}

	angle := 0.5 * math.Atan2(2*mu11, mu20-mu02) * 180 / math.Pi
	if math.Abs(angle) > maxSkewDeg {
		return 0
	}
	return angle
}

// equalizeLocal performs tile-based histogram equalization with clipping.
// Receipts often have uneven lighting across the strip; a global equalize
// blows out the bright half while the dark half stays unreadable.
func equalizeLocal(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < equalizeTiles || h < equalizeTiles {
		return src
	}

	tw := (w + equalizeTiles - 1) / equalizeTiles
	th := (h + equalizeTiles - 1) / equalizeTiles

	// Per-tile lookup tables.
	luts := make([][][256]uint8, equalizeTiles)
	for ty := 0; ty < equalizeTiles; ty++ {
		luts[ty] = make([][256]uint8, equalizeTiles)
		for tx := 0; tx < equalizeTiles; tx++ {
			x0, y0 := tx*tw, ty*th
			x1, y1 := min(x0+tw, w), min(y0+th, h)
			luts[ty][tx] = tileLUT(src, x0, y0, x1, y1)
		}
	}

	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		fy := (float64(y) - float64(th)/2) / float64(th)
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := ty0 + 1
		ty0 = clampTile(ty0)
		ty1 = clampTile(ty1)

		for x := 0; x < w; x++ {
			fx := (float64(x) - float64(tw)/2) / float64(tw)
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := tx0 + 1
			tx0 = clampTile(tx0)
			tx1 = clampTile(tx1)

			v := src.GrayAt(x, y).Y
			top := (1-wx)*float64(luts[ty0][tx0][v]) + wx*float64(luts[ty0][tx1][v])
			bot := (1-wx)*float64(luts[ty1][tx0][v]) + wx*float64(luts[ty1][tx1][v])
			out.SetGray(x, y, color.Gray{Y: uint8((1-wy)*top + wy*bot + 0.5)})
		}
	}
	return out
}

func tileLUT(src *image.Gray, x0, y0, x1, y1 int) [256]uint8 {
	var hist [256]float64
	total := float64((x1 - x0) * (y1 - y0))
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[src.GrayAt(x, y).Y]++
		}
	}

	// Clip and redistribute to limit noise amplification in flat regions.
	limit := clipLimit * total / 256
	var excess float64
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	share := excess / 256
	var cdf float64
	var lut [256]uint8
	for i := range hist {
		cdf += hist[i] + share
		v := cdf / total * 255
		if v > 255 {
			v = 255
		}
		lut[i] = uint8(v)
	}
	return lut
}

func clampTile(t int) int {
	if t < 0 {
		return 0
	}
	if t >= equalizeTiles {
		return equalizeTiles - 1
	}
	return t
}

// otsuBinarize thresholds with Otsu's method, maximizing between-class
// variance over the histogram.
func otsuBinarize(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	var hist [256]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[src.GrayAt(x, y).Y]++
		}
	}

	total := w * h
	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, wB float64
	var maxVar float64
	threshold := 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		v := wB * wF * (mB - mF) * (mB - mF)
		if v > maxVar {
			maxVar = v
			threshold = t
		}
	}

	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if int(src.GrayAt(x, y).Y) > threshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			} else {
				out.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return out
}

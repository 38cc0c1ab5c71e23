package imaging

import (
	"image"
	"image/draw"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"
)

// Rect is a rectangle in normalized [0,1] frame coordinates.
type Rect struct {
	X, Y, W, H float64
}

// scoreGain stretches the mean pixel difference so that roughly a 22%
// combined difference already scores zero.
const scoreGain = 4.5

// maxSamples bounds the pixels visited per region; larger regions are strided.
const maxSamples = 40_000

// ToRGBA returns img as *image.RGBA, copying only when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// ResizeTo scales img to w x h unless it already has that size.
func ResizeTo(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	return resize.Resize(uint(w), uint(h), img, resize.Bilinear)
}

// Crop converts r to a pixel rectangle inside bounds. The result is never
// empty for a non-empty frame.
func (r Rect) Crop(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := bounds.Min.X + int(math.Floor(r.X*w))
	y0 := bounds.Min.Y + int(math.Floor(r.Y*h))
	x1 := bounds.Min.X + int(math.Ceil((r.X+r.W)*w))
	y1 := bounds.Min.Y + int(math.Ceil((r.Y+r.H)*h))
	out := image.Rect(x0, y0, x1, y1).Intersect(bounds)
	if out.Empty() && !bounds.Empty() {
		x0 = min(max(x0, bounds.Min.X), bounds.Max.X-1)
		y0 = min(max(y0, bounds.Min.Y), bounds.Max.Y-1)
		out = image.Rect(x0, y0, x0+1, y0+1)
	}
	return out
}

// RegionSimilarity scores how alike a and b are inside r, from 0 (unrelated)
// to 1 (identical). It averages three mean absolute differences (luma, CIE
// LAB and raw RGB, each normalized to [0,1]) and maps the result through
// 1 - min(1, combined*4.5). b is resized to a's dimensions first.
func RegionSimilarity(a, b image.Image, r Rect) float64 {
	ab := a.Bounds()
	if ab.Empty() {
		return 0
	}
	ra := ToRGBA(a)
	rb := ToRGBA(ResizeTo(b, ab.Dx(), ab.Dy()))

	crop := r.Crop(ra.Bounds())
	stride := 1
	if area := crop.Dx() * crop.Dy(); area > maxSamples {
		stride = int(math.Ceil(math.Sqrt(float64(area) / maxSamples)))
	}

	var sumGray, sumLab, sumRGB float64
	n := 0
	offB := rb.Bounds().Min.Sub(ra.Bounds().Min)
	for y := crop.Min.Y; y < crop.Max.Y; y += stride {
		for x := crop.Min.X; x < crop.Max.X; x += stride {
			pa := ra.PixOffset(x, y)
			pb := rb.PixOffset(x+offB.X, y+offB.Y)
			r1, g1, b1 := ra.Pix[pa], ra.Pix[pa+1], ra.Pix[pa+2]
			r2, g2, b2 := rb.Pix[pb], rb.Pix[pb+1], rb.Pix[pb+2]
			if r1 == r2 && g1 == g2 && b1 == b2 {
				n++
				continue
			}
			sumGray += math.Abs(luma(r1, g1, b1)-luma(r2, g2, b2)) / 255
			sumRGB += (absDiff(r1, r2) + absDiff(g1, g2) + absDiff(b1, b2)) / (3 * 255)
			sumLab += labDiff(r1, g1, b1, r2, g2, b2)
			n++
		}
	}
	if n == 0 {
		return 1
	}
	combined := (sumGray/float64(n) + sumLab/float64(n) + sumRGB/float64(n)) / 3
	return ScoreFromDifference(combined)
}

// ScoreFromDifference maps a combined mean difference in [0,1] to a score.
func ScoreFromDifference(combined float64) float64 {
	s := 1 - math.Min(1, combined*scoreGain)
	return math.Max(0, math.Min(1, s))
}

func luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

func absDiff(a, b uint8) float64 {
	return math.Abs(float64(a) - float64(b))
}

// labDiff is scaled like an 8-bit LAB encoding: L over its full range, a and
// b over 255 units.
func labDiff(r1, g1, b1, r2, g2, b2 uint8) float64 {
	l1, a1, bb1 := colorful.Color{R: float64(r1) / 255, G: float64(g1) / 255, B: float64(b1) / 255}.Lab()
	l2, a2, bb2 := colorful.Color{R: float64(r2) / 255, G: float64(g2) / 255, B: float64(b2) / 255}.Lab()
	return (math.Abs(l1-l2) + math.Abs(a1-a2)*100/255 + math.Abs(bb1-bb2)*100/255) / 3
}

package imaging

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Heatmap blends a blue-to-red map of |live - baseline| over live, 60% frame
// and 40% heat. baseline is resized to live first.
func Heatmap(live, baseline image.Image) *image.RGBA {
	lb := live.Bounds()
	rl := ToRGBA(live)
	rb := ToRGBA(ResizeTo(baseline, lb.Dx(), lb.Dy()))
	out := image.NewRGBA(image.Rect(0, 0, lb.Dx(), lb.Dy()))

	offL := rl.Bounds().Min
	offB := rb.Bounds().Min
	for y := 0; y < lb.Dy(); y++ {
		for x := 0; x < lb.Dx(); x++ {
			pl := rl.PixOffset(x+offL.X, y+offL.Y)
			pb := rb.PixOffset(x+offB.X, y+offB.Y)
			d := (absDiff(rl.Pix[pl], rb.Pix[pb]) + absDiff(rl.Pix[pl+1], rb.Pix[pb+1]) + absDiff(rl.Pix[pl+2], rb.Pix[pb+2])) / (3 * 255)
			heat := heatColor(d)
			out.SetRGBA(x, y, color.RGBA{
				R: blend(rl.Pix[pl], heat.R),
				G: blend(rl.Pix[pl+1], heat.G),
				B: blend(rl.Pix[pl+2], heat.B),
				A: 255,
			})
		}
	}
	return out
}

// heatColor walks the hue wheel from blue (no change) to red (maximal).
func heatColor(v float64) color.RGBA {
	v = min(1, v*scoreGain)
	r, g, b := colorful.Hsv(240*(1-v), 1, 1).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func blend(frame, heat uint8) uint8 {
	return uint8(0.6*float64(frame) + 0.4*float64(heat) + 0.5)
}

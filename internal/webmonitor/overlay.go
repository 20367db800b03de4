package webmonitor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/loop"
)

var (
	guideColor = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	boxColor   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	labelColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	statsFg    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	statsBg    = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

const lineWidth = 3

// renderOverlay copies the full frame and draws the crop guides, near boxes
// with class labels and a stats line. Returns nil when there is no frame.
func renderOverlay(obs loop.Observation) *image.RGBA {
	src := obs.Frame.Full
	if src == nil {
		return nil
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	crop := obs.Frame.Offset.Sub(b.Min)
	if !crop.Empty() && crop != dst.Bounds() {
		drawVLine(dst, crop.Min.X, guideColor)
		drawVLine(dst, crop.Max.X, guideColor)
	}

	// Boxes are in crop coordinates
	for _, det := range obs.Near {
		r := det.Box.Rect().Add(crop.Min)
		drawRect(dst, r, boxColor)
		drawText(dst, r.Min.X, r.Min.Y-5, strconv.Itoa(det.ClassID), labelColor)
	}

	stats := fmt.Sprintf("Tick: %d  Stage: %s", obs.Tick, obs.Stage)
	drawTextWithBackground(dst, 10, 10, stats, statsFg, statsBg, 2)

	return dst
}

func drawVLine(dst *image.RGBA, x int, c color.Color) {
	b := dst.Bounds()
	r := image.Rect(x-lineWidth/2, b.Min.Y, x-lineWidth/2+lineWidth, b.Max.Y)
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// drawRect draws the outline of r, lineWidth pixels thick, inside r
func drawRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	u := image.NewUniform(c)
	t := lineWidth
	if r.Dx() < 2*t || r.Dy() < 2*t {
		draw.Draw(dst, r, u, image.Point{}, draw.Src)
		return
	}
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), u, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
}

// drawText draws text with its baseline at y
func drawText(dst *image.RGBA, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// drawTextWithBackground draws text whose top-left corner is (x, y) on a padded box
func drawTextWithBackground(dst *image.RGBA, x, y int, text string, fg, bg color.Color, pad int) {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	width := d.MeasureString(text).Ceil()
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()

	box := image.Rect(x-pad, y-pad, x+width+pad, y+height+pad)
	draw.Draw(dst, box, image.NewUniform(bg), image.Point{}, draw.Src)
	drawText(dst, x, y+ascent, text, fg)
}

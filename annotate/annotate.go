// Package annotate draws detections onto a copy of an image for review.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"FoodDetServer/detection"

	"gocv.io/x/gocv"
)

const (
	fontScale     = 0.6
	fontThickness = 1
	boxThickness  = 2
	labelPadding  = 10
	textBaseline  = 5
)

var (
	boxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	textColor = color.RGBA{R: 0, G: 0, B: 0, A: 0}
)

// Label is the text drawn above a detection.
func Label(d detection.Detection) string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}

// Annotate returns a new image with a box, a filled label background and the
// label text drawn for every detection, in order. img is not modified; the
// caller owns the returned Mat. Label backgrounds near the top edge are
// left to the drawing primitives to clip.
func Annotate(img gocv.Mat, detections []detection.Detection) (gocv.Mat, error) {
	out := img.Clone()
	for _, d := range detections {
		if err := draw(&out, d); err != nil {
			_ = out.Close()
			return gocv.NewMat(), err
		}
	}
	return out, nil
}

func draw(mat *gocv.Mat, d detection.Detection) error {
	x1, y1, x2, y2 := d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]
	if err := gocv.Rectangle(mat, image.Rect(x1, y1, x2, y2), boxColor, boxThickness); err != nil {
		return fmt.Errorf("draw box: %w", err)
	}

	label := Label(d)
	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, fontScale, fontThickness)
	bg := image.Rect(x1, y1-size.Y-labelPadding, x1+size.X, y1)
	if err := gocv.Rectangle(mat, bg, boxColor, -1); err != nil {
		return fmt.Errorf("draw label background: %w", err)
	}
	if err := gocv.PutText(mat, label, image.Pt(x1, y1-textBaseline), gocv.FontHersheySimplex, fontScale, textColor, fontThickness); err != nil {
		return fmt.Errorf("draw label: %w", err)
	}
	return nil
}

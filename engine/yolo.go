package engine

import (
	"fmt"
	"image"

	iface "FoodDetServer/interface"

	"gocv.io/x/gocv"
)

// maxWH separates classes for class-aware NMS: every box is shifted by
// classID*maxWH so boxes of different classes never overlap.
const maxWH = 7680

// candidate is one anchor that passed the confidence threshold.
type candidate struct {
	box   [4]float32
	class int
	score float32
}

// layout describes a YOLOv8 head output of shape [1, 4+nc, anchors].
type layout struct {
	attrs   int
	anchors int
}

func layoutFromShape(shape []int) (layout, error) {
	if len(shape) == 2 {
		shape = append([]int{1}, shape...)
	}
	if len(shape) != 3 || shape[0] != 1 || shape[1] <= 4 || shape[2] <= 0 {
		return layout{}, fmt.Errorf("unexpected output shape %v, want [1, 4+nc, anchors]", shape)
	}
	return layout{attrs: shape[1], anchors: shape[2]}, nil
}

// decodeCandidates reads a flattened [4+nc, anchors] tensor, keeps anchors
// whose best class score reaches conf, and maps boxes back to the source
// image using the scale factors.
func decodeCandidates(data []float32, l layout, xScale, yScale, conf float32) ([]candidate, error) {
	if len(data) < l.attrs*l.anchors {
		return nil, fmt.Errorf("output has %d values, want %d", len(data), l.attrs*l.anchors)
	}
	n := l.anchors
	var out []candidate
	for a := 0; a < n; a++ {
		best, bestScore := -1, float32(0)
		for c := 0; c < l.attrs-4; c++ {
			if s := data[(4+c)*n+a]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < conf {
			continue
		}
		cx, cy, w, h := data[a], data[n+a], data[2*n+a], data[3*n+a]
		out = append(out, candidate{
			box: [4]float32{
				(cx - w/2) * xScale,
				(cy - h/2) * yScale,
				(cx + w/2) * xScale,
				(cy + h/2) * yScale,
			},
			class: best,
			score: bestScore,
		})
	}
	return out, nil
}

// suppress runs class-aware NMS and returns boxes ordered by descending score.
func suppress(cands []candidate, conf, iou float32) []iface.RawBox {
	if len(cands) == 0 {
		return nil
	}
	rects := make([]image.Rectangle, len(cands))
	scores := make([]float32, len(cands))
	for i, c := range cands {
		off := c.class * maxWH
		rects[i] = image.Rect(
			int(c.box[0])+off, int(c.box[1])+off,
			int(c.box[2])+off, int(c.box[3])+off,
		)
		scores[i] = c.score
	}
	keep := gocv.NMSBoxes(rects, scores, conf, iou)
	boxes := make([]iface.RawBox, 0, len(keep))
	for _, i := range keep {
		c := cands[i]
		boxes = append(boxes, iface.RawBox{XYXY: c.box, ClassID: c.class, Conf: c.score})
	}
	return boxes
}

// postprocess turns one YOLO output tensor into a single-image result.
func postprocess(data []float32, shape []int, srcW, srcH, inputSize int, conf, iou float32) ([]iface.RawResult, error) {
	l, err := layoutFromShape(shape)
	if err != nil {
		return nil, err
	}
	xScale := float32(srcW) / float32(inputSize)
	yScale := float32(srcH) / float32(inputSize)
	cands, err := decodeCandidates(data, l, xScale, yScale, conf)
	if err != nil {
		return nil, err
	}
	return []iface.RawResult{{Boxes: suppress(cands, conf, iou)}}, nil
}

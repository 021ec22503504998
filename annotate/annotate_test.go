package annotate

import (
	"bytes"
	"testing"

	"FoodDetServer/detection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func sample() []detection.Detection {
	return []detection.Detection{
		{ClassID: 0, ClassName: "Apple", Confidence: 0.91, BBox: [4]int{10, 10, 50, 50}},
		{ClassID: 3, ClassName: "Grape", Confidence: 0.42, BBox: [4]int{100, 100, 150, 160}},
		// near the top edge, inverted corners
		{ClassID: 12, ClassName: "Class 12", Confidence: 0.5, BBox: [4]int{180, 2, 120, 0}},
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Apple 0.91", Label(sample()[0]))
	assert.Equal(t, "Kiwi 0.50", Label(detection.Detection{ClassName: "Kiwi", Confidence: 0.499999}))
}

func TestAnnotate_DoesNotMutateInput(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 200, 200, gocv.MatTypeCV8UC3)
	defer img.Close()
	before := append([]byte(nil), img.ToBytes()...)

	out, err := Annotate(img, sample())
	require.NoError(t, err)
	defer out.Close()

	assert.True(t, bytes.Equal(before, img.ToBytes()), "input image changed")
	assert.Equal(t, img.Rows(), out.Rows())
	assert.Equal(t, img.Cols(), out.Cols())
	assert.False(t, bytes.Equal(before, out.ToBytes()), "nothing was drawn")
}

func TestAnnotate_DrawsBoxAndLabel(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 200, 200, gocv.MatTypeCV8UC3)
	defer img.Close()

	out, err := Annotate(img, sample()[:1])
	require.NoError(t, err)
	defer out.Close()

	// Box edge at (30, 50) is green (BGR order).
	px := out.GetVecbAt(50, 30)
	assert.Equal(t, uint8(0), px[0])
	assert.Equal(t, uint8(255), px[1])
	assert.Equal(t, uint8(0), px[2])
	// Inside the box stays black.
	assert.Equal(t, uint8(0), out.GetVecbAt(30, 30)[1])
}

func TestAnnotate_NoDetectionsIsCopy(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 16, 16, gocv.MatTypeCV8UC3)
	defer img.Close()

	out, err := Annotate(img, nil)
	require.NoError(t, err)
	defer out.Close()
	assert.True(t, bytes.Equal(img.ToBytes(), out.ToBytes()))
}

package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/class-monitor/internal/behavior"
	"github.com/dj-oyu/class-monitor/pkg/types"
)

func grayJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestAnnotateKeepsSizeAndDrawsCaption(t *testing.T) {
	src := grayJPEG(t, 320, 240)
	out, err := Annotate(src, behavior.Sleeping, []types.Detection{
		{ClassName: "cell phone", Confidence: 0.87, BBox: types.BoundingBox{X: 100, Y: 100, W: 60, H: 40}},
		{ClassName: "apple", Confidence: 0.5, BBox: types.BoundingBox{X: 300, Y: 5, W: 100, H: 100}},
	})
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())

	// caption band is dark, away from it the frame is still mid gray
	r, g, b, _ := img.At(9, 18).RGBA()
	assert.Less(t, (r+g+b)/3>>8, uint32(60))
	r, g, b, _ = img.At(200, 200).RGBA()
	assert.InDelta(t, 128, float64((r+g+b)/3>>8), 12)
}

func TestAnnotateRejectsGarbage(t *testing.T) {
	_, err := Annotate([]byte("not a jpeg"), behavior.Normal, nil)
	assert.Error(t, err)
}

func TestLabelColor(t *testing.T) {
	assert.Equal(t, color.RGBA{G: 220, A: 255}, LabelColor(behavior.Normal))
	assert.NotEqual(t, LabelColor(behavior.Normal), LabelColor(behavior.UsingPhone))
	assert.Equal(t, "Behavior: Using Phone", Caption(behavior.UsingPhone))
}

func TestBlank(t *testing.T) {
	data, err := Blank(160, 120)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 160, 120), decode(t, data).Bounds())

	data, err = Blank(0, 0)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 640, 480), decode(t, data).Bounds())
}

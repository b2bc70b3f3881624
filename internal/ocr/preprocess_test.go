package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/expensobot/receipts-engine/internal/common"
)

// receiptLike draws dark horizontal bars on a light background, roughly the
// pixel distribution of printed text lines.
func receiptLike(w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(220)
			if y%12 < 3 && x > w/10 && x < w*9/10 {
				v = 30
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func TestPreprocessProducesBinaryImage(t *testing.T) {
	out, err := Preprocess(receiptLike(120, 96))
	require.NoError(t, err)

	b := out.Bounds()
	assert.Equal(t, 120, b.Dx())
	assert.Equal(t, 96, b.Dy())

	var black, white int
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			switch out.GrayAt(x, y).Y {
			case 0:
				black++
			case 255:
				white++
			default:
				t.Fatalf("non-binary pixel %d at (%d,%d)", out.GrayAt(x, y).Y, x, y)
			}
		}
	}
	assert.Positive(t, black, "text bars should survive binarization")
	assert.Positive(t, white)
}

func TestPreprocessDecodeFailure(t *testing.T) {
	_, err := Preprocess([]byte("definitely not an image"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDecode))

	_, err = Preprocess(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDecode))
}

func TestSkewAngleLevelImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 100; x++ {
			v := uint8(255)
			if y >= 18 && y < 22 && x >= 10 && x < 90 {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	angle := skewAngle(img)
	assert.InDelta(t, 0, angle, 0.5, "horizontal bar should read as level")
}

func TestSkewAngleBlankImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	assert.Zero(t, skewAngle(img))
}

func TestIsHEIC(t *testing.T) {
	heic := append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypheic")...)
	heic = append(heic, make([]byte, 8)...)
	assert.True(t, isHEIC(heic))

	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}
	assert.False(t, isHEIC(jpeg))
	assert.False(t, isHEIC(nil))
}

type stubEngine struct {
	result    Result
	err       error
	seenPath  string
	pathStats os.FileInfo
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Recognize(_ context.Context, imagePath string) (Result, error) {
	s.seenPath = imagePath
	s.pathStats, _ = os.Stat(imagePath)
	return s.result, s.err
}

func TestExtractStagesArtifactForEngine(t *testing.T) {
	dir := t.TempDir()
	eng := &stubEngine{result: Result{Text: "TOTAL 42.50", Confidence: 90, Engine: "stub"}}
	ext := NewExtractorWithEngine(Config{ArtifactCacheDir: dir}, eng, nil)

	res, err := ext.Extract(context.Background(), receiptLike(64, 64))
	require.NoError(t, err)
	assert.Equal(t, "TOTAL 42.50", res.Text)
	assert.Equal(t, float32(90), res.Confidence)

	require.NotNil(t, eng.pathStats, "engine must receive an existing staged file")
	assert.Positive(t, eng.pathStats.Size())

	_, statErr := os.Stat(eng.seenPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "staged artifact is removed after the run")
}

func TestExtractPropagatesEngineError(t *testing.T) {
	eng := &stubEngine{err: errors.New("engine exploded")}
	ext := NewExtractorWithEngine(Config{ArtifactCacheDir: t.TempDir()}, eng, nil)

	_, err := ext.Extract(context.Background(), receiptLike(32, 32))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine exploded")
}

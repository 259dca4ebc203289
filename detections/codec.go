package detections

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"sync"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/disintegration/imaging"
)

// ImageTensor is a [1, Height, Width, 3] uint8 tensor, row-major with
// interleaved R,G,B samples. len(Data) == Width*Height*3.
type ImageTensor struct {
	Width  int
	Height int
	Data   []uint8
}

func (t *ImageTensor) Shape() []int64 {
	return []int64{1, int64(t.Height), int64(t.Width), Channels}
}

// Offset returns the index of channel c of pixel (x, y) in Data.
func (t *ImageTensor) Offset(x, y, c int) int {
	return (y*t.Width+x)*Channels + c
}

// Encode wraps a packed RGB buffer into a fresh tensor. The caller guarantees
// len(rgb) == width*height*3.
func Encode(rgb []uint8, width, height int) *ImageTensor {
	data := make([]uint8, width*height*Channels)
	copy(data, rgb)
	return &ImageTensor{Width: width, Height: height, Data: data}
}

// ToRGB packs img into an interleaved RGB buffer. It reports false for
// images that carry no colour channels.
func ToRGB(img image.Image) ([]uint8, bool) {
	if !hasColor(img) {
		return nil, false
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	buffer := make([]uint8, width*height*Channels)
	if width == 0 || height == 0 {
		return buffer, true
	}

	var pix []uint8
	var stride, origin int
	switch src := img.(type) {
	case *image.NRGBA:
		pix, stride, origin = src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y)
	case *image.RGBA:
		// Premultiplied samples only equal straight RGB when fully opaque.
		if !src.Opaque() {
			dst := imaging.Clone(img)
			pix, stride, origin = dst.Pix, dst.Stride, 0
			break
		}
		pix, stride, origin = src.Pix, src.Stride, src.PixOffset(b.Min.X, b.Min.Y)
	default:
		dst := imaging.Clone(img)
		pix, stride, origin = dst.Pix, dst.Stride, 0
	}

	if width*height < parallelPixelThreshold {
		packRows(buffer, pix[origin:], stride, width, 0, height)
		return buffer, true
	}
	packParallel(buffer, pix[origin:], stride, width, height)
	return buffer, true
}

func hasColor(img image.Image) bool {
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return false
	}
	return true
}

// packRows drops the alpha byte of 4-byte pixels for rows [start, end).
func packRows(dst, pix []uint8, stride, width, start, end int) {
	for y := start; y < end; y++ {
		src := pix[y*stride : y*stride+width*4]
		out := dst[y*width*Channels : (y+1)*width*Channels]
		for x, o := 0, 0; x < len(src); x, o = x+4, o+Channels {
			out[o] = src[x]
			out[o+1] = src[x+1]
			out[o+2] = src[x+2]
		}
	}
}

func packParallel(dst, pix []uint8, stride, width, height int) {
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == numWorkers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			packRows(dst, pix, stride, width, start, end)
		}(startRow, endRow)
	}

	wg.Wait()
}

// DecodeOutputs pairs the scores and classes outputs by position. Class ids
// arrive as floats and are truncated toward zero.
func DecodeOutputs(scores, classes []float32) ([]models.Detection, error) {
	if len(scores) != len(classes) {
		return nil, fmt.Errorf("%w: %d scores, %d classes", ErrOutputMismatch, len(scores), len(classes))
	}

	detections := make([]models.Detection, len(classes))
	for i, c := range classes {
		detections[i] = models.Detection{Class: int(c), Score: scores[i]}
	}
	return detections, nil
}

// ColorModelName names a colour model for logs and batch output.
func ColorModelName(m color.Model) string {
	if _, ok := m.(color.Palette); ok {
		return "paletted"
	}
	switch m {
	case color.RGBAModel:
		return "rgba"
	case color.RGBA64Model:
		return "rgba64"
	case color.NRGBAModel:
		return "nrgba"
	case color.NRGBA64Model:
		return "nrgba64"
	case color.YCbCrModel:
		return "ycbcr"
	case color.NYCbCrAModel:
		return "nycbcra"
	case color.CMYKModel:
		return "cmyk"
	case color.GrayModel:
		return "gray"
	case color.Gray16Model:
		return "gray16"
	case color.AlphaModel:
		return "alpha"
	case color.Alpha16Model:
		return "alpha16"
	}
	return fmt.Sprintf("%T", m)
}

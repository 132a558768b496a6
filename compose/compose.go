// Package compose flattens a background-removed image onto a solid color.
package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const MediaTypePNG = "image/png"

var (
	ErrDecode        = errors.New("decode error")
	ErrRenderContext = errors.New("render context error")
)

// Result is a flattened, fully opaque PNG.
type Result struct {
	Data      []byte
	MediaType string
	Width     int
	Height    int
	// Transparent reports whether the input carried any transparency.
	Transparent bool
}

// ApplyBackground fills a canvas the size of the input with c and draws the
// input over it (source-over). Identical inputs give byte-identical output.
func ApplyBackground(data []byte, c Color) (*Result, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	b := src.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty surface %dx%d", ErrRenderContext, b.Dx(), b.Dy())
	}

	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Over)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", ErrRenderContext, err)
	}

	return &Result{
		Data:        buf.Bytes(),
		MediaType:   MediaTypePNG,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Transparent: hasUsefulAlpha(toNRGBA(src)),
	}, nil
}

// Thumbnail decodes data and re-encodes it as a PNG whose longest side is at
// most maxSide. Transparency is kept.
func Thumbnail(data []byte, maxSide int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty surface", ErrRenderContext)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, resizeWithinMax(toNRGBA(src), maxSide)); err != nil {
		return nil, fmt.Errorf("%w: encode png: %w", ErrRenderContext, err)
	}
	return buf.Bytes(), nil
}

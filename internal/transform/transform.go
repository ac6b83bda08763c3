// Package transform derives resized image streams from a source
// stream. Variants without transform params pass the source through
// untouched.
package transform

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/locator-kn/ms-fileserve/internal/domain"
)

// magicBytes identifies supported image encodings.
var magicBytes = map[string][]byte{
	"image/jpeg": {0xFF, 0xD8, 0xFF},
	"image/png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"image/webp": {0x52, 0x49, 0x46, 0x46}, // RIFF header
}

// DetectType returns the actual image type from the first bytes of the
// stream.
func DetectType(header []byte) (string, error) {
	if len(header) < 12 {
		return "", fmt.Errorf("data too short to detect type")
	}
	switch {
	case bytes.HasPrefix(header, magicBytes["image/jpeg"]):
		return "image/jpeg", nil
	case bytes.HasPrefix(header, magicBytes["image/png"]):
		return "image/png", nil
	case bytes.HasPrefix(header, magicBytes["image/webp"]) && string(header[8:12]) == "WEBP":
		return "image/webp", nil
	}
	return "", fmt.Errorf("unsupported image encoding")
}

func decode(r io.Reader, mimeType string) (image.Image, error) {
	switch mimeType {
	case "image/jpeg":
		return jpeg.Decode(r)
	case "image/png":
		return png.Decode(r)
	case "image/webp":
		return webp.Decode(r)
	}
	return nil, fmt.Errorf("unsupported image encoding: %s", mimeType)
}

// resizeWidth scales img to the target width preserving aspect ratio.
// Images narrower than the target are returned unchanged.
func resizeWidth(img image.Image, width int) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= width {
		return img
	}
	ratio := float64(width) / float64(srcW)
	dstH := int(float64(srcH) * ratio)
	if dstH < 1 {
		dstH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func encode(w io.Writer, img image.Image, mimeType string) error {
	switch mimeType {
	case "image/png":
		return png.Encode(w, img)
	default:
		// webp sources are re-encoded as JPEG: x/image/webp decodes only.
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 85})
	}
}

// Engine turns a source stream into a derived stream per variant spec.
type Engine struct{}

// NewEngine creates an image transform engine.
func NewEngine() *Engine { return &Engine{} }

// Run returns a stream of the variant's bytes. With no transform
// params the source passes through unchanged. Otherwise the source is
// decoded, scaled to the target width and re-encoded incrementally
// into the returned pipe; decode or encode failures surface as read
// errors on the returned stream.
func (e *Engine) Run(ctx context.Context, src io.Reader, spec domain.VariantSpec) (io.ReadCloser, error) {
	if spec.Transform == nil {
		return io.NopCloser(src), nil
	}

	params := *spec.Transform
	pr, pw := io.Pipe()

	go func() {
		buffered := bufio.NewReader(src)
		header, err := buffered.Peek(12)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("read image header: %w", err))
			return
		}
		mimeType, err := DetectType(header)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		img, err := decode(buffered, mimeType)
		if err != nil {
			pw.CloseWithError(fmt.Errorf("decode image: %w", err))
			return
		}
		if err := ctx.Err(); err != nil {
			pw.CloseWithError(err)
			return
		}
		// Decode and re-encode normalizes orientation; interlaced
		// output is not supported by the stdlib encoders.
		resized := resizeWidth(img, params.TargetWidth)
		if err := encode(pw, resized, mimeType); err != nil {
			pw.CloseWithError(fmt.Errorf("encode image: %w", err))
			return
		}
		pw.Close()
	}()

	return pr, nil
}

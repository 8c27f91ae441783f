package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"

	// Formats the local fallback can decode. WebP originals get no preview.
	_ "image/png"

	"github.com/dmitrijs2005/shashinpass/internal/common"
)

const (
	stripeWidth = 12
	// stripeAlpha is how strongly a stripe pulls pixels towards white.
	stripeAlpha = 140
	// previewQuality keeps the local preview visibly worse than the original.
	previewQuality = 55
)

// Watermark renders a striped JPEG preview of the image in r. It is used
// when the AI service produced nothing, so a preview never has to be the
// unmarked original.
func Watermark(r io.Reader) ([]byte, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decode for watermark: %v", common.ErrTransform, err)
	}

	b := src.Bounds()
	dst := image.NewRGBA(b)
	// Flatten onto white so every pixel is opaque before blending.
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if ((x-b.Min.X)+(y-b.Min.Y))/stripeWidth%2 != 0 {
				continue
			}
			i := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := uint32(dst.Pix[i+c])
				dst.Pix[i+c] = uint8((v*(255-stripeAlpha) + 255*stripeAlpha) / 255)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: previewQuality}); err != nil {
		return nil, fmt.Errorf("%w: encode watermark: %v", common.ErrTransform, err)
	}
	return buf.Bytes(), nil
}

package ingest

import (
	"bytes"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"image-magic/internal/batch"
)

// MaxPreviewDimension bounds the longer side of a display preview.
const MaxPreviewDimension = 512

const previewQuality = 80

// Preview builds the display copy of an image: a JPEG no larger than
// MaxPreviewDimension on either side. Images that cannot be decoded are shown
// as-is.
func Preview(data []byte, mimeType string) batch.Image {
	original := batch.Image{Data: data, MimeType: mimeType}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return original
	}

	bounds := img.Bounds()
	w, h := thumbnailDimensions(bounds.Dx(), bounds.Dy(), MaxPreviewDimension)
	if w == 0 || h == 0 {
		return original
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten onto white.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: previewQuality}); err != nil {
		return original
	}
	return batch.Image{Data: buf.Bytes(), MimeType: "image/jpeg"}
}

func thumbnailDimensions(width, height, maxDim int) (int, int) {
	if width <= 0 || height <= 0 {
		return 0, 0
	}
	if width <= maxDim && height <= maxDim {
		return width, height
	}
	if width >= height {
		h := height * maxDim / width
		return maxDim, max(h, 1)
	}
	w := width * maxDim / height
	return max(w, 1), maxDim
}

// Package export names result downloads and packs succeeded items into a
// single ZIP archive.
package export

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"image-magic/internal/batch"
	"image-magic/internal/prompt"
)

// ErrNotReady is returned when fewer than MinBundleItems items succeeded.
var ErrNotReady = errors.New("at least two processed images are needed for an archive")

const MinBundleItems = 2

// MethodZstd is the ZIP method ID for Zstandard (APPNOTE 6.3.7).
const MethodZstd uint16 = 93

type Method string

const (
	MethodNameStore   Method = "store"
	MethodNameDeflate Method = "deflate"
	MethodNameZstd    Method = "zstd"
)

func ParseMethod(value string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(value))); m {
	case "":
		return MethodNameDeflate, nil
	case MethodNameStore, MethodNameDeflate, MethodNameZstd:
		return m, nil
	default:
		return "", fmt.Errorf("unknown archive method %q", value)
	}
}

func (m Method) zipMethod() uint16 {
	switch m {
	case MethodNameStore:
		return zip.Store
	case MethodNameZstd:
		return MethodZstd
	default:
		return zip.Deflate
	}
}

type BundleOptions struct {
	Method Method
	At     time.Time
}

// ResultFileName names a single result download. itemIndex and variantIndex
// are 0-based positions in the collection and in the item's results.
func ResultFileName(itemIndex, variantIndex int, mode prompt.Mode, aspect prompt.AspectRatio, mimeType string, at time.Time) string {
	return fmt.Sprintf("gemini-edit-%d-%d-%s-%s-%d%s",
		itemIndex, variantIndex, mode,
		strings.ReplaceAll(string(aspect), ":", "-"),
		at.UnixMilli(), Extension(mimeType))
}

func BundleName(at time.Time) string {
	return fmt.Sprintf("Gemini_Batch_Result_%d.zip", at.UnixMilli())
}

func entryName(n, variant int, mimeType string) string {
	return fmt.Sprintf("gemini_result_%d_v%d%s", n, variant, Extension(mimeType))
}

// Extension maps a result MIME type to a file extension, defaulting to .png.
func Extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// WriteBundle writes every result of every succeeded item to w as a ZIP.
// Items that did not succeed are skipped and numbering follows the succeeded
// items only.
func WriteBundle(w io.Writer, items []batch.Item, opts BundleOptions) error {
	var succeeded []batch.Item
	for _, it := range items {
		if it.Status == batch.StatusSucceeded && len(it.Results) > 0 {
			succeeded = append(succeeded, it)
		}
	}
	if len(succeeded) < MinBundleItems {
		return ErrNotReady
	}

	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}
	method := opts.Method.zipMethod()

	zw := zip.NewWriter(w)
	registerCompressors(zw)

	for n, it := range succeeded {
		for v, img := range it.Results {
			hdr := &zip.FileHeader{
				Name:     entryName(n+1, v+1, img.MimeType),
				Method:   method,
				Modified: at,
			}
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return fmt.Errorf("create %s: %w", hdr.Name, err)
			}
			if _, err := fw.Write(img.Data); err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func registerCompressors(zw *zip.Writer) {
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	zw.RegisterCompressor(MethodZstd, func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
}

// RegisterDecompressors teaches r to read archives written with MethodZstd.
func RegisterDecompressors(r *zip.Reader) {
	r.RegisterDecompressor(MethodZstd, func(in io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(in)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return dec.IOReadCloser()
	})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

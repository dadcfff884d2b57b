package gemini

import (
	"context"

	"image-magic/internal/prompt"
)

// Request is one generation call: one source image in, one edited image out.
type Request struct {
	Image        []byte
	MimeType     string
	Instruction  string
	Mode         prompt.Mode
	HighQuality  bool
	FocusProduct bool
	AspectRatio  prompt.AspectRatio

	// Variant is the 0-based slot this call fills; it does not change the prompt.
	Variant int
}

type Image struct {
	Data     []byte
	MimeType string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Image, error)
}

const defaultResultMime = "image/png"

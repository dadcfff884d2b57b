package prompt

import "strings"

const (
	ModelStandard = "gemini-2.5-flash-image"
	ModelHigh     = "gemini-3-pro-image-preview"

	imageSizeHigh = "2K"
)

const (
	focusClause = " The foreground object is a commercial product. PRESERVE the product details exactly. Sharpen the product focus, enhance textures, and ensure high fidelity. Use professional studio lighting to highlight the product. "

	backgroundFallback = " Keep the main subject intact and realistic. "
	customFallback     = " Maintain high coherence and photorealism. "

	qualityHigh     = " Output in 2K resolution (2048x2048), hyper-realistic, extremely detailed, sharp focus, 8k photography."
	qualityStandard = " High quality, photorealistic, commercial photography standard."
)

// Compose builds the text part of a generation request. The wording is part of
// the product behaviour; aspect ratio travels separately as a structured option.
func Compose(instruction string, mode Mode, highQuality, focusProduct bool) string {
	var b strings.Builder
	b.Grow(512 + len(instruction))

	switch mode {
	case ModeBackground:
		b.WriteString("Change the background of this image to: " + instruction + ". ")
	case ModeBanner:
		b.WriteString("Create a high-converting professional advertising banner featuring this product. \n")
		b.WriteString("    Context/Theme: " + instruction + ". \n")
		b.WriteString("    CRITICAL COMPOSITION RULE: Place the product elegantly to one side or bottom-center to create clear NEGATIVE SPACE (Copy Space) for marketing text overlay. \n")
		b.WriteString("    Background should be distinct but not distracting. ")
	default:
		b.WriteString(instruction + ". ")
	}

	switch {
	case focusProduct || mode == ModeBanner:
		b.WriteString(focusClause)
	case mode == ModeBackground:
		b.WriteString(backgroundFallback)
	default:
		b.WriteString(customFallback)
	}

	if highQuality {
		b.WriteString(qualityHigh)
	} else {
		b.WriteString(qualityStandard)
	}

	return b.String()
}

func ModelFor(highQuality bool) string {
	if highQuality {
		return ModelHigh
	}
	return ModelStandard
}

// ImageSizeFor returns the imageConfig.imageSize value, empty for the standard tier.
func ImageSizeFor(highQuality bool) string {
	if highQuality {
		return imageSizeHigh
	}
	return ""
}

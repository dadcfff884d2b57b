package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"image-magic/internal/prompt"
)

// Preset is a saved set of edit settings. Unset fields keep the base value.
//
//	mode = "banner"
//	theme = "summer"
//	style = "pastel"
//	aspect_ratio = "9:16"
//	variants = 2
type Preset struct {
	Mode         *string `toml:"mode"`
	Instruction  *string `toml:"instruction"`
	Theme        *string `toml:"theme"`
	Style        *string `toml:"style"`
	HighQuality  *bool   `toml:"high_quality"`
	FocusProduct *bool   `toml:"focus_product"`
	AspectRatio  *string `toml:"aspect_ratio"`
	Variants     *int    `toml:"variants"`
}

func LoadPreset(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preset{}, fmt.Errorf("read preset: %w", err)
	}
	return ParsePreset(data)
}

func ParsePreset(data []byte) (Preset, error) {
	var p Preset
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Preset{}, fmt.Errorf("parse preset: %s", strict.String())
		}
		return Preset{}, fmt.Errorf("parse preset: %w", err)
	}
	if p.Mode != nil {
		if _, ok := prompt.ParseMode(*p.Mode); !ok {
			return Preset{}, fmt.Errorf("parse preset: unknown mode %q", *p.Mode)
		}
	}
	if p.AspectRatio != nil {
		if _, ok := prompt.ParseAspectRatio(*p.AspectRatio); !ok {
			return Preset{}, fmt.Errorf("parse preset: unknown aspect ratio %q", *p.AspectRatio)
		}
	}
	return p, nil
}

// Apply layers the preset over base and normalizes the result.
func (p Preset) Apply(base prompt.Settings) prompt.Settings {
	if p.Mode != nil {
		base.Mode = prompt.Mode(*p.Mode)
	}
	if p.Instruction != nil {
		base.Instruction = *p.Instruction
	}
	if p.Theme != nil {
		base.Theme = *p.Theme
	}
	if p.Style != nil {
		base.Style = *p.Style
	}
	if p.HighQuality != nil {
		base.HighQuality = *p.HighQuality
	}
	if p.FocusProduct != nil {
		base.FocusProduct = *p.FocusProduct
	}
	if p.AspectRatio != nil {
		base.AspectRatio = prompt.AspectRatio(*p.AspectRatio)
	}
	if p.Variants != nil {
		base.Variants = *p.Variants
	}
	return base.Normalize()
}

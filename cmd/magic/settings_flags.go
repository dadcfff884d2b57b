package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"image-magic/internal/config"
	"image-magic/internal/prompt"
)

// settingsFlags binds one flag per edit setting. Flags the user sets win over
// the preset, and the preset wins over the defaults.
type settingsFlags struct {
	preset      string
	mode        string
	instruction string
	theme       string
	style       string
	highQuality bool
	focus       bool
	aspect      string
	variants    int
}

func (f *settingsFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.preset, "preset", "", "TOML file with saved settings")
	flags.StringVarP(&f.mode, "mode", "m", string(prompt.ModeBackground), "Edit mode: background, banner, custom")
	flags.StringVarP(&f.instruction, "instruction", "i", "", "Edit instruction")
	flags.StringVar(&f.theme, "theme", "", "Banner theme key (see 'magic options')")
	flags.StringVar(&f.style, "style", "", "Banner style key (see 'magic options')")
	flags.BoolVar(&f.highQuality, "hq", false, "Use the high quality model")
	flags.BoolVar(&f.focus, "focus", false, "Keep the product as the focal point")
	flags.StringVarP(&f.aspect, "aspect", "a", string(prompt.AspectSquare), "Aspect ratio: 1:1, 16:9, 9:16")
	flags.IntVarP(&f.variants, "variants", "n", 1, fmt.Sprintf("Results per image (%d-%d)", prompt.MinVariants, prompt.MaxVariants))
}

func (f *settingsFlags) resolve(cmd *cobra.Command) (prompt.Settings, error) {
	s := prompt.DefaultSettings()

	if path := strings.TrimSpace(f.preset); path != "" {
		preset, err := config.LoadPreset(path)
		if err != nil {
			return prompt.Settings{}, err
		}
		s = preset.Apply(s)
	}

	changed := cmd.Flags().Changed
	if changed("mode") {
		m, ok := prompt.ParseMode(f.mode)
		if !ok {
			return prompt.Settings{}, fmt.Errorf("unknown mode %q", f.mode)
		}
		s.Mode = m
	}
	if changed("instruction") {
		s.Instruction = f.instruction
	}
	if changed("theme") {
		if !validKey(prompt.BannerThemes(), f.theme) {
			return prompt.Settings{}, fmt.Errorf("unknown theme %q", f.theme)
		}
		s.Theme = f.theme
	}
	if changed("style") {
		if !validKey(prompt.BannerStyles(), f.style) {
			return prompt.Settings{}, fmt.Errorf("unknown style %q", f.style)
		}
		s.Style = f.style
	}
	if changed("hq") {
		s.HighQuality = f.highQuality
	}
	if changed("focus") {
		s.FocusProduct = f.focus
	}
	if changed("aspect") {
		ar, ok := prompt.ParseAspectRatio(f.aspect)
		if !ok {
			return prompt.Settings{}, fmt.Errorf("unknown aspect ratio %q", f.aspect)
		}
		s.AspectRatio = ar
	}
	if changed("variants") {
		n, ok := prompt.ParseVariants(strconv.Itoa(f.variants))
		if !ok {
			return prompt.Settings{}, fmt.Errorf("variants must be between %d and %d", prompt.MinVariants, prompt.MaxVariants)
		}
		s.Variants = n
	}

	return s.Normalize(), nil
}

func validKey(opts []prompt.NamedOption, key string) bool {
	for _, o := range opts {
		if o.Key == key {
			return true
		}
	}
	return false
}

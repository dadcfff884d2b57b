package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBlankInstruction = errors.New("edit instruction is empty")

// Settings is the session-wide edit configuration shared by every item of a run.
type Settings struct {
	Mode         Mode
	Instruction  string
	Theme        string
	Style        string
	HighQuality  bool
	FocusProduct bool
	AspectRatio  AspectRatio
	Variants     int
}

func DefaultSettings() Settings {
	return Settings{
		Mode:        ModeBackground,
		Theme:       bannerThemes[0].Key,
		Style:       bannerStyles[0].Key,
		AspectRatio: AspectSquare,
		Variants:    1,
	}
}

func (s Settings) Normalize() Settings {
	if m, ok := ParseMode(string(s.Mode)); ok {
		s.Mode = m
	} else {
		s.Mode = ModeBackground
	}
	if ar, ok := ParseAspectRatio(string(s.AspectRatio)); ok {
		s.AspectRatio = ar
	} else {
		s.AspectRatio = AspectSquare
	}
	if !hasOption(bannerThemes, s.Theme) {
		s.Theme = bannerThemes[0].Key
	}
	if !hasOption(bannerStyles, s.Style) {
		s.Style = bannerStyles[0].Key
	}
	s.Variants = clampVariants(s.Variants)
	return s
}

// EffectiveInstruction is the instruction handed to the generator. Banner mode
// folds theme and style in front of the free text, which is why it is never blank.
func (s Settings) EffectiveInstruction() string {
	if s.Mode != ModeBanner {
		return s.Instruction
	}
	return fmt.Sprintf("Theme: %s. Style: %s. Extra details: %s",
		OptionName(bannerThemes, s.Theme),
		OptionName(bannerStyles, s.Style),
		s.Instruction,
	)
}

func (s Settings) Validate() error {
	if s.Mode == ModeBanner {
		return nil
	}
	if strings.TrimSpace(s.EffectiveInstruction()) == "" {
		return ErrBlankInstruction
	}
	return nil
}

func ParseMode(value string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "background", "bg":
		return ModeBackground, true
	case "banner", "ad":
		return ModeBanner, true
	case "custom", "edit", "freeform":
		return ModeCustom, true
	}
	return "", false
}

func ParseAspectRatio(value string) (AspectRatio, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1:1", "square":
		return AspectSquare, true
	case "16:9", "landscape", "wide":
		return AspectLandscape, true
	case "9:16", "portrait", "tall":
		return AspectPortrait, true
	}
	return "", false
}

func ParseVariants(value string) (int, bool) {
	value = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), "x")
	n, err := strconv.Atoi(value)
	if err != nil || n < MinVariants || n > MaxVariants {
		return 0, false
	}
	return n, true
}

// ParseArgs reads an argument line such as "bg 16:9 x2 hq sunset beach".
// Leading option tokens update the settings; the rest becomes the instruction.
func ParseArgs(raw string, defaults Settings) Settings {
	s := defaults
	fields := strings.Fields(raw)

	for i, orig := range fields {
		if !s.applyToken(strings.ToLower(orig)) {
			s.Instruction = strings.Join(fields[i:], " ")
			break
		}
	}
	return s.Normalize()
}

func (s *Settings) applyToken(tok string) bool {
	switch tok {
	case "hq", "2k":
		s.HighQuality = true
		return true
	case "sd":
		s.HighQuality = false
		return true
	case "focus":
		s.FocusProduct = true
		return true
	case "nofocus":
		s.FocusProduct = false
		return true
	}

	if m, ok := ParseMode(tok); ok {
		s.Mode = m
		return true
	}
	if strings.Contains(tok, ":") {
		if ar, ok := ParseAspectRatio(tok); ok {
			s.AspectRatio = ar
			return true
		}
	}
	if strings.HasPrefix(tok, "x") {
		if n, ok := ParseVariants(tok); ok {
			s.Variants = n
			return true
		}
	}
	if key, ok := strings.CutPrefix(tok, "theme="); ok && hasOption(bannerThemes, key) {
		s.Theme = key
		return true
	}
	if key, ok := strings.CutPrefix(tok, "style="); ok && hasOption(bannerStyles, key) {
		s.Style = key
		return true
	}
	return false
}

func clampVariants(n int) int {
	if n < MinVariants {
		return MinVariants
	}
	if n > MaxVariants {
		return MaxVariants
	}
	return n
}

package prompt

type NamedOption struct {
	Key  string
	Name string
}

type Mode string

const (
	ModeBackground Mode = "background"
	ModeBanner     Mode = "banner"
	ModeCustom     Mode = "custom"
)

type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectLandscape AspectRatio = "16:9"
	AspectPortrait  AspectRatio = "9:16"
)

const (
	MinVariants = 1
	MaxVariants = 4
)

var bannerThemes = []NamedOption{
	{Key: "big_sale", Name: "Big Sale"},
	{Key: "new_launch", Name: "New Product Launch"},
	{Key: "tet_holiday", Name: "Tet Holiday"},
	{Key: "christmas", Name: "Christmas"},
	{Key: "summer", Name: "Vibrant Summer"},
	{Key: "luxury", Name: "Luxury & Premium"},
	{Key: "organic", Name: "Nature & Organic"},
}

var bannerStyles = []NamedOption{
	{Key: "minimalist", Name: "Minimalist"},
	{Key: "vibrant", Name: "Vibrant"},
	{Key: "pastel", Name: "Soft Pastel"},
	{Key: "neon_cyberpunk", Name: "Neon Cyberpunk"},
	{Key: "studio", Name: "Professional Studio"},
	{Key: "solid_color", Name: "Solid Color Background"},
}

func Modes() []NamedOption {
	return []NamedOption{
		{Key: string(ModeBackground), Name: "Background"},
		{Key: string(ModeBanner), Name: "Ad Banner"},
		{Key: string(ModeCustom), Name: "Free-form Edit"},
	}
}

func AspectRatios() []NamedOption {
	return []NamedOption{
		{Key: string(AspectSquare), Name: "Square"},
		{Key: string(AspectLandscape), Name: "Landscape"},
		{Key: string(AspectPortrait), Name: "Portrait"},
	}
}

func BannerThemes() []NamedOption {
	return append([]NamedOption(nil), bannerThemes...)
}

func BannerStyles() []NamedOption {
	return append([]NamedOption(nil), bannerStyles...)
}

// OptionName returns the display name for key, or "" when the key is unknown.
func OptionName(opts []NamedOption, key string) string {
	for _, o := range opts {
		if o.Key == key {
			return o.Name
		}
	}
	return ""
}

func hasOption(opts []NamedOption, key string) bool {
	return OptionName(opts, key) != ""
}

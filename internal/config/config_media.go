package config

// MediaConfig configures media helpers consumed by vision pathways.
type MediaConfig struct {
	// MaxImageDimension caps the longest edge, in pixels, when inline
	// images are downscaled for vision requests. Default: 2048.
	MaxImageDimension int `yaml:"max_image_dimension"`

	// Translation points translation pathways at an AppTek-compatible
	// backend.
	Translation TranslationConfig `yaml:"translation"`
}

// TranslationConfig configures the external translation backend.
// APPTEK_API_ENDPOINT and APPTEK_API_KEY override.
type TranslationConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

package config

import "github.com/cortexgw/cortex/internal/pathway"

// PathwaysConfig declares where pathway definitions come from. Directory
// files and inline specs merge into one registry; inline specs are
// code-registered and survive directory reloads.
type PathwaysConfig struct {
	// Directory holds pathway files (.yaml, .yml, .json, .json5).
	Directory string `yaml:"directory"`

	// Watch hot-reloads the directory when its files change.
	Watch bool `yaml:"watch"`

	// Inline declares pathways directly in the main config.
	Inline []pathway.Spec `yaml:"inline"`
}

package config

import (
	"strings"

	"github.com/caarlos0/env/v6"
)

// envOverrides mirrors the environment variables the gateway honors on
// top of file configuration. CORTEX_CONFIG names the config file itself
// and is consumed by the CLI before Load runs, so it does not appear
// here.
type envOverrides struct {
	Port              int    `env:"CORTEX_PORT"`
	EnableREST        *bool  `env:"CORTEX_ENABLE_REST"`
	NodeID            string `env:"CORTEX_ID"`
	FileHandlerURL    string `env:"WHISPER_MEDIA_API_URL"`
	StorageConnection string `env:"STORAGE_CONNECTION_STRING"`
	EncryptionKey     string `env:"REDIS_ENCRYPTION_KEY"`
	TranslateEndpoint string `env:"APPTEK_API_ENDPOINT"`
	TranslateAPIKey   string `env:"APPTEK_API_KEY"`
}

// applyEnvOverrides overlays process environment variables onto cfg.
// Environment values win over file values. Runs before defaults so a
// connection string arriving by environment still selects the redis
// backend.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return err
	}

	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	if o.EnableREST != nil {
		cfg.Server.EnableREST = *o.EnableREST
	}
	if v := strings.TrimSpace(o.NodeID); v != "" {
		cfg.Server.NodeID = v
	}
	if v := strings.TrimSpace(o.FileHandlerURL); v != "" {
		cfg.FileHandler.URL = v
	}
	if v := strings.TrimSpace(o.StorageConnection); v != "" {
		cfg.Storage.ConnectionString = v
	}
	if v := strings.TrimSpace(o.EncryptionKey); v != "" {
		cfg.Storage.EncryptionKey = v
	}
	if v := strings.TrimSpace(o.TranslateEndpoint); v != "" {
		cfg.Media.Translation.Endpoint = v
	}
	if v := strings.TrimSpace(o.TranslateAPIKey); v != "" {
		cfg.Media.Translation.APIKey = v
	}
	return nil
}

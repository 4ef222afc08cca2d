package config

import "time"

// Storage backend names accepted by StorageConfig.Backend.
const (
	StorageBackendRedis  = "redis"
	StorageBackendSQLite = "sqlite"
	StorageBackendMemory = "memory"
)

// Blob backend names accepted by EmbeddedFileHandlerConfig.Backend.
const (
	BlobBackendLocal = "local"
	BlobBackendS3    = "s3"
)

// StorageConfig configures the file-collection store.
type StorageConfig struct {
	// Backend selects the store: "redis", "sqlite", or "memory".
	// Defaults to redis when connection_string is set, memory otherwise.
	Backend string `yaml:"backend"`

	// ConnectionString is the redis URL for the redis backend.
	// STORAGE_CONNECTION_STRING overrides.
	ConnectionString string `yaml:"connection_string"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// EncryptionKey is the system-layer key material for file payload
	// encryption. REDIS_ENCRYPTION_KEY overrides. Payloads are stored
	// plaintext when empty.
	EncryptionKey string `yaml:"encryption_key"`

	// CacheTTL bounds the in-process record cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// FileHandlerConfig configures where file uploads go.
type FileHandlerConfig struct {
	// URL points at an external file-handler deployment.
	// WHISPER_MEDIA_API_URL overrides. When set, the embedded handler
	// stays off.
	URL string `yaml:"url"`

	// Embedded runs the in-process handler for dev and single-node
	// deployments.
	Embedded EmbeddedFileHandlerConfig `yaml:"embedded"`
}

// EmbeddedFileHandlerConfig configures the in-process file handler.
type EmbeddedFileHandlerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Backend selects blob storage: "local" or "s3".
	Backend string `yaml:"backend"`

	// LocalPath is the directory for local blob storage.
	LocalPath string `yaml:"local_path"`

	// S3Bucket is the bucket name for S3 storage.
	S3Bucket string `yaml:"s3_bucket"`

	// S3Region is the AWS region for S3.
	S3Region string `yaml:"s3_region"`

	// S3Prefix is an optional path prefix for all S3 objects.
	S3Prefix string `yaml:"s3_prefix"`

	// S3Endpoint is the endpoint URL for S3-compatible storage.
	S3Endpoint string `yaml:"s3_endpoint"`
}

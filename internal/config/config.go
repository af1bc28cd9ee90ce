// Package config loads the server configuration from an optional YAML file
// and environment overrides, and validates it on startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ryabkov82/sf-sync-server/internal/bulk"
	"github.com/ryabkov82/sf-sync-server/internal/client"
	"github.com/ryabkov82/sf-sync-server/internal/syncer"
)

// Config holds all server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Salesforce SalesforceConfig `yaml:"salesforce"`
	Bulk       BulkConfig       `yaml:"bulk"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Logging    LoggingConfig    `yaml:"logging"`
	// Objects adds or replaces required create fields per object
	Objects map[string][]string `yaml:"objects"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port        int           `yaml:"port" env:"PORT"`
	ReadTimeout time.Duration `yaml:"readTimeout" env:"SERVER_READ_TIMEOUT"`

	// WriteTimeout must cover synchronous batches that wait for bulk jobs
	WriteTimeout    time.Duration `yaml:"writeTimeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"maxBodyBytes" env:"SERVER_MAX_BODY_BYTES"`

	// APIKey enables X-API-Key auth when set
	APIKey string `yaml:"apiKey" env:"SF_SYNC_API_KEY"`
}

// SalesforceConfig holds the default org and HTTP client settings.
// Requests may carry their own settings instead.
type SalesforceConfig struct {
	InstanceURL string        `yaml:"instanceUrl" env:"SALESFORCE_INSTANCE_URL"`
	AccessToken string        `yaml:"accessToken" env:"SALESFORCE_ACCESS_TOKEN"`
	APIVersion  string        `yaml:"apiVersion" env:"SALESFORCE_API_VERSION"`
	IsSandbox   bool          `yaml:"isSandbox" env:"SALESFORCE_IS_SANDBOX"`
	Timeout     time.Duration `yaml:"timeout" env:"SALESFORCE_HTTP_TIMEOUT"`
	GzipUploads bool          `yaml:"gzipUploads" env:"SALESFORCE_GZIP_UPLOADS"`
}

// BulkConfig holds batching and bulk job settings
type BulkConfig struct {
	EnableBatching bool            `yaml:"enableBatching" env:"BULK_ENABLE_BATCHING"`
	BatchSize      int             `yaml:"batchSize" env:"BULK_BATCH_SIZE"`
	MinBulkRows    int             `yaml:"minBulkRows" env:"BULK_MIN_ROWS"`
	UploadMaxBytes int             `yaml:"uploadMaxBytes" env:"BULK_UPLOAD_MAX_BYTES"`
	Poll           bulk.PollPolicy `yaml:"poll"`
}

// JobsConfig holds async job queue settings
type JobsConfig struct {
	QueueSize int `yaml:"queueSize" env:"JOBS_QUEUE_SIZE"`
	Workers   int `yaml:"workers" env:"JOBS_WORKERS"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Default returns the configuration used for anything not set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    64 << 20,
		},
		Salesforce: SalesforceConfig{
			APIVersion: client.DefaultAPIVersion,
			Timeout:    60 * time.Second,
		},
		Bulk: BulkConfig{
			BatchSize:      syncer.DefaultBatchSize,
			MinBulkRows:    1,
			UploadMaxBytes: 100 << 20,
			Poll:           bulk.DefaultPollPolicy(),
		},
		Jobs: JobsConfig{
			QueueSize: 1000,
			Workers:   1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server.port (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("server timeouts must be non-negative"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("server.shutdownTimeout must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		result = multierror.Append(result, fmt.Errorf("server.maxBodyBytes must be positive"))
	}

	if url := c.Salesforce.InstanceURL; url != "" && !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		result = multierror.Append(result, fmt.Errorf("salesforce.instanceUrl (%q) must be an http(s) url", url))
	}
	if !strings.HasPrefix(c.Salesforce.APIVersion, "v") {
		result = multierror.Append(result, fmt.Errorf("salesforce.apiVersion (%q) must look like v53.0", c.Salesforce.APIVersion))
	}
	if c.Salesforce.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("salesforce.timeout must be positive"))
	}

	if c.Bulk.BatchSize < 1 || c.Bulk.BatchSize > syncer.MaxBatchSize {
		result = multierror.Append(result, fmt.Errorf("bulk.batchSize (%d) must be 1-%d", c.Bulk.BatchSize, syncer.MaxBatchSize))
	}
	if c.Bulk.MinBulkRows < 1 {
		result = multierror.Append(result, fmt.Errorf("bulk.minBulkRows must be positive"))
	}
	if c.Bulk.UploadMaxBytes < 0 {
		result = multierror.Append(result, fmt.Errorf("bulk.uploadMaxBytes must be non-negative"))
	}
	if err := c.Bulk.Poll.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("bulk.poll: %w", err))
	}

	if c.Jobs.QueueSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("jobs.queueSize must be positive"))
	}
	if c.Jobs.Workers <= 0 {
		result = multierror.Append(result, fmt.Errorf("jobs.workers must be positive"))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		result = multierror.Append(result, fmt.Errorf("logging.level (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		result = multierror.Append(result, fmt.Errorf("logging.format (%q) must be one of: text, json", c.Logging.Format))
	}

	for obj, fields := range c.Objects {
		if len(fields) == 0 {
			result = multierror.Append(result, fmt.Errorf("objects.%s must list at least one field", obj))
		}
	}

	return result.ErrorOrNil()
}

// SalesforceSettings returns the default org settings
func (c *Config) SalesforceSettings() client.Settings {
	return client.Settings{
		InstanceURL: c.Salesforce.InstanceURL,
		AccessToken: c.Salesforce.AccessToken,
		APIVersion:  c.Salesforce.APIVersion,
		IsSandbox:   c.Salesforce.IsSandbox,
	}
}

// SyncOptions returns the default batch options
func (c *Config) SyncOptions() syncer.Options {
	return syncer.Options{
		EnableBatching: c.Bulk.EnableBatching,
		BatchSize:      c.Bulk.BatchSize,
		MinBulkRows:    c.Bulk.MinBulkRows,
	}
}

// String returns a safe string representation of the config for logging.
// Secrets are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Port: %d, APIKey: %s}, ", c.Server.Port, mask(c.Server.APIKey)))
	b.WriteString(fmt.Sprintf("Salesforce: {InstanceURL: %q, AccessToken: %s, APIVersion: %q}, ",
		c.Salesforce.InstanceURL, mask(c.Salesforce.AccessToken), c.Salesforce.APIVersion))
	b.WriteString(fmt.Sprintf("Bulk: {EnableBatching: %v, BatchSize: %d, MaxWait: %v}, ",
		c.Bulk.EnableBatching, c.Bulk.BatchSize, c.Bulk.Poll.MaxWait))
	b.WriteString(fmt.Sprintf("Jobs: {QueueSize: %d, Workers: %d}, ", c.Jobs.QueueSize, c.Jobs.Workers))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(s string) string {
	if s == "" {
		return "[unset]"
	}
	return "[MASKED]"
}

// Package config handles configuration loading for the e-invoice
// transmission service.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows sensitive values
// like database credentials and SMTP passwords to be injected at runtime.
//
// # Configuration Sections
//
//   - server: HTTP server settings (port, TLS, base path)
//   - storage: Database connection (MongoDB URI, database name, GridFS)
//   - transmission: Pipeline settings (retry budget, send timeout, polling)
//   - email: SMTP relay used by the email channel
//   - webservice: Outbound HTTPS client and circuit breaker
//
// # Example Configuration
//
//	server:
//	  port: 8080
//	  basePath: "/company"
//	  adminKey: ${ADMIN_KEY}
//
//	storage:
//	  mongodb:
//	    uri: ${MONGODB_URI}
//	    database: einvoice
//
//	transmission:
//	  maxRetries: 3
//	  sendTimeout: 30s
//	  pollInterval: 30s
//
//	email:
//	  host: smtp.example.com
//	  port: 587
//	  username: ${SMTP_USER}
//	  password: ${SMTP_PASSWORD}
//	  from: rechnung@example.com
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Transmission TransmissionConfig `yaml:"transmission"`
	Email        EmailConfig        `yaml:"email"`
	Webservice   WebserviceConfig   `yaml:"webservice"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"basePath"`
	AdminKey string `yaml:"adminKey"` // API key for admin endpoints
	TLS      struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile"`
		KeyFile  string `yaml:"keyFile"`
	} `yaml:"tls"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	GridFS   struct {
		BucketName     string `yaml:"bucketName"`
		ChunkSizeBytes int    `yaml:"chunkSizeBytes"`
	} `yaml:"gridfs"`
}

// TransmissionConfig holds pipeline settings
type TransmissionConfig struct {
	// MaxRetries is the per-transmission retry budget
	MaxRetries int `yaml:"maxRetries"`
	// SendTimeout bounds a single channel send attempt
	SendTimeout time.Duration `yaml:"sendTimeout"`
	// PollInterval is how often the requeuer looks for retryable logs
	PollInterval time.Duration `yaml:"pollInterval"`
	// BatchSize caps retryable logs fetched per tenant per poll
	BatchSize int `yaml:"batchSize"`
}

// EmailConfig holds SMTP relay settings for the email channel
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// WebserviceConfig holds outbound HTTPS client settings
type WebserviceConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"` // test environments only
	Breaker            BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for partner endpoints
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MinRequests  int           `yaml:"minRequests"`
	FailureRatio float64       `yaml:"failureRatio"`
	OpenTimeout  time.Duration `yaml:"openTimeout"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/company"
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "einvoice"
	}
	if c.Storage.MongoDB.GridFS.BucketName == "" {
		c.Storage.MongoDB.GridFS.BucketName = "invoice_archive"
	}
	if c.Storage.MongoDB.GridFS.ChunkSizeBytes == 0 {
		c.Storage.MongoDB.GridFS.ChunkSizeBytes = 261120 // 255KB
	}
	if c.Transmission.MaxRetries == 0 {
		c.Transmission.MaxRetries = 3
	}
	if c.Transmission.SendTimeout == 0 {
		c.Transmission.SendTimeout = 30 * time.Second
	}
	if c.Transmission.PollInterval == 0 {
		c.Transmission.PollInterval = 30 * time.Second
	}
	if c.Transmission.BatchSize == 0 {
		c.Transmission.BatchSize = 10
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	if c.Webservice.Timeout == 0 {
		c.Webservice.Timeout = 30 * time.Second
	}
	if c.Webservice.Breaker.MinRequests == 0 {
		c.Webservice.Breaker.MinRequests = 5
	}
	if c.Webservice.Breaker.FailureRatio == 0 {
		c.Webservice.Breaker.FailureRatio = 0.6
	}
	if c.Webservice.Breaker.OpenTimeout == 0 {
		c.Webservice.Breaker.OpenTimeout = 60 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("storage.mongodb.uri is required")
	}
	if c.Transmission.MaxRetries < 0 {
		return fmt.Errorf("transmission.maxRetries must not be negative")
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.certFile and server.tls.keyFile are required when TLS is enabled")
	}
	if c.Email.Host != "" && c.Email.From == "" {
		return fmt.Errorf("email.from is required when an SMTP host is configured")
	}
	return nil
}

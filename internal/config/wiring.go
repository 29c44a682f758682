package config

import (
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/channel"
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/pipeline"
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage/mongodb"
	"github.com/Andy54411/the-freelancer-marketing-sub034/pkg/transport"
)

// Translations from the loaded configuration into the component
// configurations consumed by the service wiring. Each section feeds
// exactly one component.

// Mongo returns the store configuration from the storage section.
func (c *Config) Mongo() *mongodb.Config {
	return &mongodb.Config{
		URI:            c.Storage.MongoDB.URI,
		Database:       c.Storage.MongoDB.Database,
		GridFSBucket:   c.Storage.MongoDB.GridFS.BucketName,
		ChunkSizeBytes: int32(c.Storage.MongoDB.GridFS.ChunkSizeBytes),
	}
}

// SMTP returns the mailer configuration from the email section.
func (c *Config) SMTP() channel.SMTPConfig {
	return channel.SMTPConfig{
		Host:     c.Email.Host,
		Port:     c.Email.Port,
		Username: c.Email.Username,
		Password: c.Email.Password,
		From:     c.Email.From,
	}
}

// DeliveryClient returns the HTTPS client configuration from the
// webservice section, keeping the transport's TLS defaults. The circuit
// breaker runs only when webservice.breaker.enabled is set.
func (c *Config) DeliveryClient() *transport.Config {
	tc := transport.DefaultConfig()
	if c.Webservice.Timeout > 0 {
		tc.Timeout = c.Webservice.Timeout
	}
	tc.InsecureSkipVerify = c.Webservice.InsecureSkipVerify
	tc.BreakerEnabled = c.Webservice.Breaker.Enabled
	if c.Webservice.Breaker.MinRequests > 0 {
		tc.BreakerMinRequests = uint32(c.Webservice.Breaker.MinRequests)
	}
	if c.Webservice.Breaker.FailureRatio > 0 {
		tc.BreakerFailureRatio = c.Webservice.Breaker.FailureRatio
	}
	if c.Webservice.Breaker.OpenTimeout > 0 {
		tc.BreakerOpenTimeout = c.Webservice.Breaker.OpenTimeout
	}
	return tc
}

// Pipeline returns the pipeline configuration from the transmission
// section.
func (c *Config) Pipeline() *pipeline.Config {
	return &pipeline.Config{
		MaxRetries:  c.Transmission.MaxRetries,
		SendTimeout: c.Transmission.SendTimeout,
	}
}

// Requeuer returns the retry worker configuration from the transmission
// section.
func (c *Config) Requeuer() *pipeline.RequeuerConfig {
	rc := pipeline.DefaultRequeuerConfig()
	if c.Transmission.PollInterval > 0 {
		rc.PollInterval = c.Transmission.PollInterval
	}
	if c.Transmission.BatchSize > 0 {
		rc.BatchSize = c.Transmission.BatchSize
	}
	return rc
}

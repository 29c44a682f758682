// Package transport implements the HTTPS delivery client for webservice/EDI invoice transmission
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// Recommended TLS 1.2 cipher suites for partner endpoints
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// Config contains delivery client configuration
type Config struct {
	MinTLSVersion   uint16
	MaxTLSVersion   uint16
	CipherSuites    []uint16
	Certificates    []tls.Certificate
	RootCAs         *x509.CertPool
	Timeout         time.Duration
	IdleConnTimeout time.Duration

	// InsecureSkipVerify disables certificate verification. Test
	// environments only.
	InsecureSkipVerify bool

	// Circuit breaker settings
	BreakerEnabled      bool
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
	BreakerHalfOpenMax  uint32
}

// DefaultConfig returns a default delivery client configuration
func DefaultConfig() *Config {
	return &Config{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		Timeout:         30 * time.Second,
		IdleConnTimeout: 90 * time.Second,

		BreakerEnabled:      true,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.6,
		BreakerOpenTimeout:  60 * time.Second,
		BreakerHalfOpenMax:  1,
	}
}

// Response is the outcome of a successful delivery request
type Response struct {
	StatusCode int
	Body       []byte
}

// StatusError is returned when the remote endpoint answers with a
// non-success status. It carries the transport's status detail so the
// pipeline can record it on the transmission log.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint returned status %d: %s", e.StatusCode, e.Detail)
}

// DeliveryClient posts invoice payloads to partner endpoints
type DeliveryClient struct {
	client  *http.Client
	config  *Config
	breaker *gobreaker.CircuitBreaker[*Response]
}

// NewDeliveryClient creates a new delivery client
func NewDeliveryClient(config *Config) *DeliveryClient {
	if config == nil {
		config = DefaultConfig()
	}

	tlsConfig := &tls.Config{
		MinVersion:         config.MinTLSVersion,
		MaxVersion:         config.MaxTLSVersion,
		CipherSuites:       config.CipherSuites,
		Certificates:       config.Certificates,
		RootCAs:            config.RootCAs,
		InsecureSkipVerify: config.InsecureSkipVerify,
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}

	c := &DeliveryClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config: config,
	}

	if config.BreakerEnabled {
		c.breaker = gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
			Name:        "invoice-delivery",
			MaxRequests: config.BreakerHalfOpenMax,
			Timeout:     config.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < config.BreakerMinRequests {
					return false
				}
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRatio >= config.BreakerFailureRatio
			},
		})
	}

	return c
}

// Post delivers a payload to the endpoint. A non-2xx response is returned
// as a *StatusError; network and timeout errors come back as-is.
func (c *DeliveryClient) Post(ctx context.Context, endpoint, contentType string, headers map[string]string, body []byte) (*Response, error) {
	if c.breaker == nil {
		return c.post(ctx, endpoint, contentType, headers, body)
	}
	return c.breaker.Execute(func() (*Response, error) {
		return c.post(ctx, endpoint, contentType, headers, body)
	})
}

func (c *DeliveryClient) post(ctx context.Context, endpoint, contentType string, headers map[string]string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "taskilo-einvoice/1.0")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Detail: string(responseBody)}
	}

	return &Response{StatusCode: resp.StatusCode, Body: responseBody}, nil
}

// IsCircuitOpen reports whether err indicates the circuit breaker refused
// the call without reaching the endpoint
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

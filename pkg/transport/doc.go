// Copyright (c) 2025 Taskilo
// SPDX-License-Identifier: BSD-2-Clause

/*
Package transport implements the HTTPS delivery client for webservice/EDI
invoice transmission.

This package provides the outbound HTTP transport used by the webservice
channel sender, with TLS 1.2/1.3 support, a bounded request timeout, and a
circuit breaker that fails fast when a partner endpoint is down.

# TLS Configuration

The package recommends TLS 1.3 with fallback to TLS 1.2:

	config := transport.DefaultConfig()
	// MinTLSVersion: TLS 1.2
	// MaxTLSVersion: TLS 1.3

For TLS 1.2, the following cipher suites are recommended:
  - TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256
  - TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256

# Client Usage

Create a client and deliver an invoice payload:

	client := transport.NewDeliveryClient(nil)
	resp, err := client.Post(ctx, endpointURL, "application/xml", headers, payload)

Any non-2xx response is returned as a [*StatusError] carrying the status
code and response detail, so callers can distinguish a transport failure
from an explicit rejection by the remote partner.

# Circuit Breaker

Consecutive failures against an endpoint open a circuit breaker
(github.com/sony/gobreaker); while open, calls fail immediately without
touching the network. Use [IsCircuitOpen] to detect this condition.

# Timeouts

The default request timeout is 30 seconds. A stalled remote endpoint is
treated the same as any other transport failure.
*/
package transport

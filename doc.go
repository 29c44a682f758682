// Copyright (c) 2025 Taskilo
// SPDX-License-Identifier: BSD-2-Clause

/*
Package einvoice implements compliance-checked electronic invoice
transmission for the German regulatory environment (UStG §14, EN 16931).

# Overview

The service takes structured invoice documents (XRechnung/UBL or
ZUGFeRD/CII), certifies them against the mandatory-field rules of
UStG §14 Abs. 4, and transmits them to trading partners over their
configured channel. Every transmission is recorded in a legally
retained audit trail with the compliance evidence frozen at submission
time.

# Components

The repository is organized into the following packages:

	pkg/compliance        - EN 16931 / UStG §14 compliance checker
	pkg/transport         - HTTPS delivery client with circuit breaker
	pkg/compression       - GZIP compression for archived payloads
	internal/pipeline     - Transmission state machine and retry worker
	internal/channel      - Channel senders (email, webservice/EDI, portal)
	internal/recipient    - Per-partner channel configuration
	internal/storage      - Storage interfaces and MongoDB implementation
	internal/server       - Tenant-scoped REST API
	internal/config       - YAML configuration loading

# Transmission Lifecycle

Every accepted document moves through a transmission log:

	queued -> sending -> sent -> delivered
	                  -> failed   (retried up to the configured budget)
	                  -> rejected (partner refused the document)

Terminal logs are archived and become immutable; UStG §14b requires
their retention for at least eight years.

# Quick Start

Check a document without transmitting it:

	checker := compliance.NewChecker()
	verdict := checker.Check(invoiceXML)
	if !verdict.Compliant {
	    for _, e := range verdict.Errors {
	        fmt.Println(e)
	    }
	}

Submit a document through the pipeline:

	pl := pipeline.New(store, senders, pipeline.DefaultConfig(), logger)
	log, err := pl.Submit(ctx, &pipeline.SubmitRequest{
	    TenantID:    "company-1",
	    RecipientID: "partner-7",
	    DocumentID:  "RE-2025-0042",
	    XML:         invoiceXML,
	})

See examples/basic for a complete service wiring.

# License

BSD-2-Clause License
*/
package einvoice

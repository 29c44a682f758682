// Copyright (c) 2025 Taskilo
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression provides GZIP compression for archived invoice payloads.

Transmitted invoices are retained for at least eight years (UStG §14b).
Payloads are compressed before being written to the document archive and
transparently decompressed on retrieval.

# Compression

Compress payloads before archiving:

	compressor := compression.NewCompressor()
	compressed, err := compressor.Compress(payload)

Decompress retrieved payloads:

	decompressed, err := compressor.Decompress(compressed)

# Content Type Detection

The package determines which content types are worth compressing:

	if compression.ShouldCompress("application/xml") {
	    // Compress XML content
	}

Typically compressed:
  - application/xml (structured invoices)
  - application/json
  - text/*

Not compressed (already compressed):
  - application/pdf renditions with embedded images
  - application/gzip, application/zip
*/
package compression

// Copyright (c) 2025 Taskilo
// SPDX-License-Identifier: BSD-2-Clause

// Package compliance certifies structured e-invoices against the mandatory
// content rules of EN 16931 and German UStG §14.
//
// The package accepts a rendered invoice document (UBL or UN/CEFACT Cross
// Industry Invoice XML) and produces a graded [Verdict]: every mandatory rule
// is evaluated independently so the caller receives the complete defect list
// in one pass, not just the first violation.
//
// # Rules
//
// The rule set mirrors the legal mandatory fields:
//
//   - Structured electronic format (UStG §14 Abs. 1)
//   - Machine processability
//   - Sequential invoice number (UStG §14 Abs. 4 Nr. 1)
//   - Issue date (Nr. 2)
//   - Complete seller data including tax registration (Nr. 3)
//   - Complete buyer data (Nr. 4)
//   - Complete tax breakdown: type, amount, rate, category, basis (Nr. 5-8)
//   - Payment terms (warning only when absent)
//
// A document is compliant iff no rule produces an error. The compliance
// level grades the result as full, partial, or non_compliant.
//
// # Format profiles
//
// The checker also detects the declared EN 16931 conformance profile
// (EN16931, BASIC, COMFORT, EXTENDED) from the document's guideline or
// customization identifier, defaulting to EN16931 when ambiguous.
package compliance

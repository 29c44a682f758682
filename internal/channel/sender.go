// Package channel implements the per-channel delivery adapters for the
// transmission pipeline.
//
// Each supported channel (email, webservice/EDI, portal) has one Sender
// translating a validated invoice plus the recipient's channel profile
// into a channel-specific send operation. Senders are synchronous from
// the pipeline's point of view: Send returns only after the underlying
// transport reported success or failure.
//
// The channel set is closed; the pipeline dispatches over it with an
// explicit switch rather than open-ended registration, because each
// variant has materially different failure semantics.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
)

// ErrUnsupported is returned by channels without an operational sender.
// It is fatal for the submission and never retried.
var ErrUnsupported = errors.New("transmission channel not supported")

// RejectionError indicates the remote partner explicitly refused the
// document (as opposed to a transport failure). Rejections are terminal:
// the pipeline must not auto-retry on the same channel.
type RejectionError struct {
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("document rejected by recipient: %s", e.Detail)
}

// Delivery carries one validated invoice to a sender
type Delivery struct {
	DocumentID string

	// XML is the structured invoice; always present
	XML []byte

	// PDF is an optional human-readable rendition for email attachment
	PDF []byte

	Profile *storage.RecipientProfile
}

// Sender is the contract every channel adapter implements. Send either
// succeeds completely or fails with an error; there is no representable
// partially-delivered state.
type Sender interface {
	Send(ctx context.Context, d *Delivery) error
}

package channel

import (
	"context"
	"fmt"
)

// PortalSender is the placeholder for B2G portal delivery (ZRE, OZG-RE).
// The contract exists so the channel set stays closed, but portal
// integration is not implemented; every send fails with ErrUnsupported.
type PortalSender struct{}

// NewPortalSender creates the portal channel sender
func NewPortalSender() *PortalSender {
	return &PortalSender{}
}

// Send always fails: portal integration is not available
func (s *PortalSender) Send(ctx context.Context, d *Delivery) error {
	return fmt.Errorf("portal delivery for document %s: %w", d.DocumentID, ErrUnsupported)
}

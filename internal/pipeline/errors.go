package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
	"github.com/Andy54411/the-freelancer-marketing-sub034/pkg/compliance"
)

// ErrInvalidTransition indicates a status change the transmission state
// machine does not allow, such as confirming delivery of a failed log.
var ErrInvalidTransition = errors.New("invalid transmission status transition")

// ComplianceError reports that a document failed the pre-transmission
// compliance check. No transmission log is created in this case; the
// verdict carries the per-rule outcome for the caller.
type ComplianceError struct {
	Verdict *compliance.Verdict
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("document failed compliance check (%s): %s",
		e.Verdict.Level, strings.Join(e.Verdict.Errors, "; "))
}

// ConfigError reports missing or invalid recipient channel configuration.
type ConfigError struct {
	RecipientID string
	Detail      string
	Err         error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("recipient %s: %s", e.RecipientID, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UnsupportedChannelError reports a transmission channel the service has
// no working sender for.
type UnsupportedChannelError struct {
	Channel storage.Channel
}

func (e *UnsupportedChannelError) Error() string {
	return fmt.Sprintf("transmission channel %q is not supported", e.Channel)
}

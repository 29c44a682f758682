// Package storage provides data storage interfaces and implementations
// for the multi-tenant e-invoice transmission service.
//
// # Interface Design
//
// The storage layer is organized into focused interfaces:
//
//   - [TransmissionLogStore]: the legally retained delivery audit trail
//   - [RecipientStore]: per-trading-partner channel configuration
//   - [DocumentArchive]: compressed invoice payloads for long-term retention
//
// The [Store] interface combines all sub-stores for convenience.
//
// # Implementations
//
// The mongodb sub-package provides a production-ready MongoDB implementation.
// Additional backends may be added.
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines. Transmission log updates use optimistic locking via a version
// field: an update only applies when the caller holds the current version,
// so a retry racing a manual status change can never blind-write over it.
// Archived logs are immutable; any update against one fails with
// [ErrLogArchived].
package storage

import (
	"context"
	"errors"
	"time"
)

// Store is the main storage interface combining all sub-stores
type Store interface {
	TransmissionLogStore
	RecipientStore
	DocumentArchive

	// Close releases storage resources
	Close(ctx context.Context) error

	// Ping checks database connectivity
	Ping(ctx context.Context) error
}

// Storage errors surfaced to the pipeline. Persistence failures other than
// these wrap the underlying driver error and must propagate to the caller;
// losing a transmission record is itself a compliance violation.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict indicates an optimistic concurrency clash: the
	// record changed since it was read
	ErrVersionConflict = errors.New("record version conflict")

	// ErrLogArchived indicates an attempted mutation of an archived log
	ErrLogArchived = errors.New("transmission log is archived")
)

// TransmissionLogStore manages the delivery audit trail. Logs are created
// once, mutated only by the transmission pipeline while active, and never
// deleted (UStG §14b requires at least eight years of retention).
type TransmissionLogStore interface {
	// InsertLog persists a new transmission log and returns its ID
	InsertLog(ctx context.Context, log *TransmissionLog) (string, error)

	// GetLog retrieves a log by ID
	GetLog(ctx context.Context, tenantID, id string) (*TransmissionLog, error)

	// UpdateLog replaces a log's mutable fields. The update applies only
	// when the stored version matches log.Version and the log is still
	// active; it bumps the version and UpdatedAt on success.
	UpdateLog(ctx context.Context, log *TransmissionLog) error

	// ListLogs returns logs for a tenant, most recent first
	ListLogs(ctx context.Context, tenantID string, filter *LogFilter) ([]*TransmissionLog, error)

	// ListRetryable returns active failed logs that still have retry
	// budget left, oldest first
	ListRetryable(ctx context.Context, tenantID string, limit int) ([]*TransmissionLog, error)

	// ListTenantsWithActivity returns the tenant IDs that have active logs
	ListTenantsWithActivity(ctx context.Context) ([]string, error)
}

// RecipientStore manages per-recipient channel configuration. The pipeline
// only reads these records; they are maintained by the dashboard UI.
type RecipientStore interface {
	// GetRecipient retrieves a recipient's channel profile
	GetRecipient(ctx context.Context, companyID, recipientID string) (*RecipientProfile, error)

	// SaveRecipient creates or replaces a recipient profile
	SaveRecipient(ctx context.Context, profile *RecipientProfile) error

	// ListRecipients returns all profiles for a company
	ListRecipients(ctx context.Context, companyID string) ([]*RecipientProfile, error)
}

// DocumentArchive stores the transmitted invoice payloads referenced by
// transmission logs, gzip-compressed for long-term retention.
type DocumentArchive interface {
	// StoreDocument archives a payload and returns its storage ID
	StoreDocument(ctx context.Context, tenantID string, doc *ArchivedDocument) (string, error)

	// GetDocument retrieves an archived payload
	GetDocument(ctx context.Context, tenantID, id string) (*ArchivedDocument, error)
}

// Domain models

// Channel is a supported transmission channel
type Channel string

const (
	ChannelEmail      Channel = "email"
	ChannelWebservice Channel = "webservice"
	ChannelPortal     Channel = "portal"
	ChannelEDI        Channel = "edi"
)

// Valid reports whether c is one of the supported channels
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelWebservice, ChannelPortal, ChannelEDI:
		return true
	}
	return false
}

// TransmissionStatus is the delivery state of a transmission log
type TransmissionStatus string

const (
	StatusQueued    TransmissionStatus = "queued"    // Accepted, awaiting dispatch
	StatusSending   TransmissionStatus = "sending"   // Channel sender invoked
	StatusSent      TransmissionStatus = "sent"      // Channel reported success
	StatusDelivered TransmissionStatus = "delivered" // Explicit delivery confirmation received
	StatusFailed    TransmissionStatus = "failed"    // Transport failure, retry budget may remain
	StatusRejected  TransmissionStatus = "rejected"  // Terminal refusal: partner rejection or unusable channel
)

// ArchivalStatus marks whether a log is still mutable
type ArchivalStatus string

const (
	ArchivalActive   ArchivalStatus = "active"
	ArchivalArchived ArchivalStatus = "archived"
)

// ComplianceSnapshot is the frozen compliance evidence captured at
// submission time, kept with the log for legal defensibility.
type ComplianceSnapshot struct {
	Compliant         bool   `bson:"is_compliant" json:"isCompliant"`
	HasRequiredFields bool   `bson:"has_required_fields" json:"hasRequiredFields"`
	StructuredFormat  bool   `bson:"is_structured_format" json:"isStructuredFormat"`
	EnablesProcessing bool   `bson:"enables_processing" json:"enablesProcessing"`
	FormatStandard    string `bson:"format_standard" json:"formatStandard"`
}

// TransmissionLog records one delivery attempt sequence for a document
type TransmissionLog struct {
	ID         string `bson:"_id" json:"id"`
	DocumentID string `bson:"document_id" json:"documentId"`
	TenantID   string `bson:"tenant_id" json:"tenantId"`

	// RecipientID keys back into the recipient profile so a retry can
	// rebuild the delivery from current channel configuration
	RecipientID string `bson:"recipient_id" json:"recipientId"`

	Channel Channel `bson:"channel" json:"channel"`

	// Exactly one of the two is set, matching the channel
	RecipientEmail    string `bson:"recipient_email,omitempty" json:"recipientEmail,omitempty"`
	RecipientEndpoint string `bson:"recipient_endpoint,omitempty" json:"recipientEndpoint,omitempty"`

	Status               TransmissionStatus `bson:"status" json:"status"`
	TransmissionDate     time.Time          `bson:"transmission_date" json:"transmissionDate"`
	DeliveryConfirmation *time.Time         `bson:"delivery_confirmation,omitempty" json:"deliveryConfirmation,omitempty"`

	ErrorMessage string `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	RetryCount   int    `bson:"retry_count" json:"retryCount"`
	MaxRetries   int    `bson:"max_retries" json:"maxRetries"`

	Compliance ComplianceSnapshot `bson:"legal_compliance" json:"legalCompliance"`

	// References into the document archive: the structured document and
	// the optional PDF rendition submitted with it. A retry reloads both.
	ArchiveRef    string `bson:"archive_ref,omitempty" json:"archiveRef,omitempty"`
	PDFArchiveRef string `bson:"pdf_archive_ref,omitempty" json:"pdfArchiveRef,omitempty"`

	ArchivalStatus ArchivalStatus `bson:"archival_status" json:"archivalStatus"`
	ArchivalDate   *time.Time     `bson:"archival_date,omitempty" json:"archivalDate,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`

	// Version implements optimistic concurrency; bumped on every update
	Version int64 `bson:"version" json:"-"`
}

// LogFilter narrows ListLogs results
type LogFilter struct {
	DocumentID string
	Status     TransmissionStatus
	Channel    Channel
	Since      *time.Time
	Limit      int
	Offset     int
}

// AttachmentMode controls which renditions an email transmission carries
type AttachmentMode string

const (
	AttachXML    AttachmentMode = "xml"      // structured document only
	AttachXMLPDF AttachmentMode = "xml_pdf"  // structured document plus PDF rendition
	AttachPDF    AttachmentMode = "pdf_only" // PDF rendition alongside the mandatory XML
)

// AuthType names the authentication scheme of an EDI endpoint
type AuthType string

const (
	AuthAPIKey      AuthType = "api_key"
	AuthOAuth       AuthType = "oauth"
	AuthCertificate AuthType = "certificate"
)

// EmailSettings configures the email channel for a recipient
type EmailSettings struct {
	Address              string         `bson:"address" json:"address"`
	Subject              string         `bson:"subject,omitempty" json:"subject,omitempty"`
	BodyTemplate         string         `bson:"body_template,omitempty" json:"bodyTemplate,omitempty"`
	AttachmentMode       AttachmentMode `bson:"attachment_mode" json:"attachmentFormat"`
	RequiresConfirmation bool           `bson:"requires_confirmation" json:"requiresDeliveryConfirmation"`
}

// EDISettings configures the webservice/EDI channel for a recipient
type EDISettings struct {
	EndpointURL string            `bson:"endpoint_url" json:"endpointUrl"`
	Protocol    string            `bson:"protocol" json:"protocol"` // EDIFACT, PEPPOL or CUSTOM
	Auth        AuthDescriptor    `bson:"authentication" json:"authentication"`
	Headers     map[string]string `bson:"headers,omitempty" json:"headers,omitempty"`
}

// AuthDescriptor holds exactly one authentication scheme for an endpoint
type AuthDescriptor struct {
	Type        AuthType          `bson:"type" json:"type"`
	Credentials map[string]string `bson:"credentials" json:"credentials"`
}

// Agreement records the recipient's consent to electronic invoicing
type Agreement struct {
	AcceptsEInvoices bool      `bson:"accepts_einvoices" json:"acceptsEInvoices"`
	AgreedFormat     string    `bson:"agreed_format" json:"agreedFormat"` // zugferd, xrechnung or both
	AgreementDate    time.Time `bson:"agreement_date" json:"agreementDate"`
	Reference        string    `bson:"reference,omitempty" json:"agreementReference,omitempty"`
}

// RecipientProfile is the per-trading-partner channel configuration
type RecipientProfile struct {
	ID            string `bson:"_id,omitempty" json:"id"`
	CompanyID     string `bson:"company_id" json:"companyId"`
	RecipientID   string `bson:"recipient_id" json:"recipientId"`
	RecipientName string `bson:"recipient_name" json:"recipientName"`

	PreferredChannel Channel `bson:"preferred_channel" json:"preferredTransmissionMethod"`

	// Only the descriptor matching the preferred channel is populated
	Email *EmailSettings `bson:"email,omitempty" json:"email,omitempty"`
	EDI   *EDISettings   `bson:"edi,omitempty" json:"edi,omitempty"`

	Agreement Agreement `bson:"agreements" json:"agreements"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// Validate enforces the channel/descriptor invariants. The pipeline calls
// this before any send attempt and fails fast on violation.
func (p *RecipientProfile) Validate() error {
	if !p.PreferredChannel.Valid() {
		return errors.New("unsupported transmission channel: " + string(p.PreferredChannel))
	}
	switch p.PreferredChannel {
	case ChannelEmail:
		if p.Email == nil || p.Email.Address == "" {
			return errors.New("email channel selected but email settings are missing")
		}
	case ChannelWebservice, ChannelEDI:
		if p.EDI == nil || p.EDI.EndpointURL == "" {
			return errors.New("webservice/EDI channel selected but endpoint settings are missing")
		}
	}
	return nil
}

// ArchivedDocument is a retained invoice payload
type ArchivedDocument struct {
	ID          string    `bson:"-" json:"id"`
	DocumentID  string    `bson:"document_id" json:"documentId"`
	ContentType string    `bson:"content_type" json:"contentType"`
	Data        []byte    `bson:"-" json:"-"`
	Compressed  bool      `bson:"compressed" json:"compressed"`
	StoredAt    time.Time `bson:"stored_at" json:"storedAt"`
}

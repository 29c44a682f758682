package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
)

// Attachment is one file carried by an outbound email
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Mailer is the boundary contract to the external email subsystem.
// Implementations must deliver atomically: either the message with all
// attachments is handed to the mail system, or an error is returned.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string, attachments []Attachment) error
}

// Defaults used when the recipient profile does not configure templates.
// The wording follows the German legal context the invoices are issued in.
const (
	defaultSubject = "E-Rechnung gemäß UStG §14"

	defaultBody = `<h2>E-Rechnung gemäß UStG §14</h2>
<p>Sehr geehrte Damen und Herren,</p>
<p>anbei erhalten Sie eine elektronische Rechnung im strukturierten Format gemäß § 14 Umsatzsteuergesetz.</p>
<p>Diese E-Rechnung ist nach der europäischen Norm EN 16931 erstellt und ermöglicht eine automatisierte Weiterverarbeitung.</p>
<p>Mit freundlichen Grüßen</p>`
)

// EmailSender delivers invoices as email attachments, the simplest
// transmission channel
type EmailSender struct {
	mailer Mailer
	logger *slog.Logger
}

// NewEmailSender creates an email channel sender
func NewEmailSender(mailer Mailer, logger *slog.Logger) *EmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailSender{mailer: mailer, logger: logger}
}

// Send builds the message from the recipient profile and hands it to the
// mail collaborator. The structured XML is always attached; a PDF
// rendition is added when present and the attachment mode asks for one.
func (s *EmailSender) Send(ctx context.Context, d *Delivery) error {
	settings := d.Profile.Email
	if settings == nil {
		return fmt.Errorf("email settings missing for recipient %s", d.Profile.RecipientID)
	}

	subject := settings.Subject
	if subject == "" {
		subject = defaultSubject
	}
	body := settings.BodyTemplate
	if body == "" {
		body = defaultBody
	}

	attachments := []Attachment{{
		Filename:    "e-rechnung.xml",
		ContentType: "application/xml",
		Data:        d.XML,
	}}
	if len(d.PDF) > 0 && settings.AttachmentMode != storage.AttachXML {
		attachments = append(attachments, Attachment{
			Filename:    "rechnung.pdf",
			ContentType: "application/pdf",
			Data:        d.PDF,
		})
	}

	if err := s.mailer.Send(ctx, settings.Address, subject, body, attachments); err != nil {
		return fmt.Errorf("email delivery to %s failed: %w", settings.Address, err)
	}

	s.logger.Info("invoice sent via email",
		"document_id", d.DocumentID,
		"recipient", settings.Address,
		"attachments", len(attachments),
	)
	return nil
}

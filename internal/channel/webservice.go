package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
	"github.com/Andy54411/the-freelancer-marketing-sub034/pkg/transport"
)

// Poster is the narrow transport contract the webservice sender depends on
type Poster interface {
	Post(ctx context.Context, endpoint, contentType string, headers map[string]string, body []byte) (*transport.Response, error)
}

// WebserviceSender delivers invoices to a partner endpoint via a single
// authenticated POST. It serves both the webservice and edi channels.
type WebserviceSender struct {
	client Poster
	logger *slog.Logger
}

// NewWebserviceSender creates a webservice/EDI channel sender
func NewWebserviceSender(client Poster, logger *slog.Logger) *WebserviceSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebserviceSender{client: client, logger: logger}
}

// Send posts the structured invoice to the configured endpoint. A response
// indicating the partner refuses the document (as opposed to a transport
// problem) is surfaced as a *RejectionError.
func (s *WebserviceSender) Send(ctx context.Context, d *Delivery) error {
	settings := d.Profile.EDI
	if settings == nil {
		return fmt.Errorf("EDI settings missing for recipient %s", d.Profile.RecipientID)
	}

	authHeader, err := buildAuthHeader(settings.Auth)
	if err != nil {
		return err
	}

	headers := map[string]string{"Authorization": authHeader}
	for key, value := range settings.Headers {
		headers[key] = value
	}

	resp, err := s.client.Post(ctx, settings.EndpointURL, "application/xml", headers, d.XML)
	if err != nil {
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) && isRejectionStatus(statusErr.StatusCode) {
			return &RejectionError{Detail: statusErr.Detail}
		}
		return fmt.Errorf("webservice delivery to %s failed: %w", settings.EndpointURL, err)
	}

	s.logger.Info("invoice sent via webservice",
		"document_id", d.DocumentID,
		"endpoint", settings.EndpointURL,
		"protocol", settings.Protocol,
		"status", resp.StatusCode,
	)
	return nil
}

// buildAuthHeader derives the Authorization header from the configured
// authentication descriptor. Exactly one scheme applies per config.
func buildAuthHeader(auth storage.AuthDescriptor) (string, error) {
	switch auth.Type {
	case storage.AuthAPIKey:
		return "Bearer " + auth.Credentials["apiKey"], nil
	case storage.AuthOAuth:
		return "Bearer " + auth.Credentials["accessToken"], nil
	case storage.AuthCertificate:
		return "Certificate " + auth.Credentials["certificate"], nil
	}
	return "", fmt.Errorf("unsupported authentication type: %s", auth.Type)
}

// isRejectionStatus reports whether the status code means the partner
// explicitly refuses the document rather than failing to receive it.
func isRejectionStatus(code int) bool {
	switch code {
	case http.StatusNotAcceptable, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

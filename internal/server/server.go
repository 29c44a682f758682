// Package server provides the HTTP server for the e-invoice transmission
// service.
//
// The server exposes a tenant-scoped REST API:
//
// # Invoice API
//
//   - POST {base}/{tenantID}/api/invoices/check  - Compliance check only
//   - POST {base}/{tenantID}/api/invoices/submit - Check and transmit
//
// # Transmission API
//
//   - GET  {base}/{tenantID}/api/transmissions                  - List transmission logs
//   - GET  {base}/{tenantID}/api/transmissions/{logID}          - Get one log
//   - POST {base}/{tenantID}/api/transmissions/{logID}/confirm  - Record delivery confirmation
//
// # Recipient API
//
//   - GET {base}/{tenantID}/api/recipients               - List channel profiles
//   - GET {base}/{tenantID}/api/recipients/{recipientID} - Get one profile
//   - PUT {base}/{tenantID}/api/recipients/{recipientID} - Create or replace (admin key)
//
// # Health
//
//   - GET /health - Liveness probe
//   - GET /ready  - Readiness probe (checks database connectivity)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/channel"
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/config"
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/pipeline"
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/recipient"
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
)

// Server is the e-invoice transmission HTTP server
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	httpSrv    *http.Server
	store      storage.Store
	pipeline   *pipeline.Pipeline
	recipients *recipient.Service
}

// New creates a new server
func New(cfg *config.Config, store storage.Store, pl *pipeline.Pipeline, recipients *recipient.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:     cfg,
		logger:     logger,
		store:      store,
		pipeline:   pl,
		recipients: recipients,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening on the specified address
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", "addr", addr, "tls", s.config.Server.TLS.Enabled)
	if s.config.Server.TLS.Enabled {
		return s.httpSrv.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	if s.store != nil {
		return s.store.Close(ctx)
	}
	return nil
}

// Handler returns the server's HTTP handler, for tests
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	basePath := strings.TrimSuffix(s.config.Server.BasePath, "/")
	if basePath == "" {
		basePath = "/company"
	}

	// Health checks (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	// Invoice API
	mux.HandleFunc("POST "+basePath+"/{tenantID}/api/invoices/check", s.withTenant(s.handleCheckInvoice))
	mux.HandleFunc("POST "+basePath+"/{tenantID}/api/invoices/submit", s.withTenant(s.handleSubmitInvoice))

	// Transmission API
	mux.HandleFunc("GET "+basePath+"/{tenantID}/api/transmissions", s.withTenant(s.handleListTransmissions))
	mux.HandleFunc("GET "+basePath+"/{tenantID}/api/transmissions/{logID}", s.withTenant(s.handleGetTransmission))
	mux.HandleFunc("POST "+basePath+"/{tenantID}/api/transmissions/{logID}/confirm", s.withTenant(s.handleConfirmDelivery))

	// Recipient configuration API
	mux.HandleFunc("GET "+basePath+"/{tenantID}/api/recipients", s.withTenant(s.handleListRecipients))
	mux.HandleFunc("GET "+basePath+"/{tenantID}/api/recipients/{recipientID}", s.withTenant(s.handleGetRecipient))
	mux.HandleFunc("PUT "+basePath+"/{tenantID}/api/recipients/{recipientID}", s.withAdmin(s.withTenant(s.handleSaveRecipient)))
}

// Middleware

func (s *Server) withTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("tenantID") == "" {
			s.jsonError(w, "tenant ID required", http.StatusBadRequest)
			return
		}
		next(w, r)
	}
}

func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Admin-Key")
		if apiKey == "" || apiKey != s.config.Server.AdminKey {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonError(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// Invoice handlers

// CheckInvoiceRequest carries a document for a standalone compliance check
type CheckInvoiceRequest struct {
	XMLDocument []byte `json:"xmlDocument"`
}

func (s *Server) handleCheckInvoice(w http.ResponseWriter, r *http.Request) {
	var req CheckInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.XMLDocument) == 0 {
		s.jsonError(w, "xmlDocument is required", http.StatusBadRequest)
		return
	}

	verdict := s.pipeline.Check(req.XMLDocument)
	s.jsonResponse(w, verdict, http.StatusOK)
}

// SubmitInvoiceRequest carries a document into the transmission pipeline
type SubmitInvoiceRequest struct {
	DocumentID  string `json:"documentId"`
	RecipientID string `json:"recipientId"`
	XMLDocument []byte `json:"xmlDocument"`
	PDFDocument []byte `json:"pdfDocument,omitempty"`
}

func (s *Server) handleSubmitInvoice(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")

	var req SubmitInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DocumentID == "" {
		s.jsonError(w, "documentId is required", http.StatusBadRequest)
		return
	}
	if req.RecipientID == "" {
		s.jsonError(w, "recipientId is required", http.StatusBadRequest)
		return
	}
	if len(req.XMLDocument) == 0 {
		s.jsonError(w, "xmlDocument is required", http.StatusBadRequest)
		return
	}

	tlog, err := s.pipeline.Submit(r.Context(), &pipeline.SubmitRequest{
		TenantID:    tenantID,
		RecipientID: req.RecipientID,
		DocumentID:  req.DocumentID,
		XML:         req.XMLDocument,
		PDF:         req.PDFDocument,
	})
	if err != nil {
		s.submitError(w, tlog, err)
		return
	}

	s.jsonResponse(w, tlog, http.StatusCreated)
}

// submitError maps pipeline errors onto HTTP statuses. When a log was
// created before the failure it is included so the caller sees the
// recorded outcome.
func (s *Server) submitError(w http.ResponseWriter, tlog *storage.TransmissionLog, err error) {
	var (
		complianceErr  *pipeline.ComplianceError
		configErr      *pipeline.ConfigError
		unsupportedErr *pipeline.UnsupportedChannelError
		rejectionErr   *channel.RejectionError
	)

	switch {
	case errors.As(err, &complianceErr):
		s.jsonResponse(w, map[string]any{
			"error":   complianceErr.Error(),
			"verdict": complianceErr.Verdict,
		}, http.StatusUnprocessableEntity)

	case errors.As(err, &configErr):
		s.jsonError(w, configErr.Error(), http.StatusBadRequest)

	case errors.As(err, &unsupportedErr):
		s.jsonResponse(w, map[string]any{
			"error": unsupportedErr.Error(),
			"log":   tlog,
		}, http.StatusNotImplemented)

	case errors.As(err, &rejectionErr):
		s.jsonResponse(w, map[string]any{
			"error": "recipient rejected the document: " + rejectionErr.Detail,
			"log":   tlog,
		}, http.StatusBadGateway)

	case tlog != nil:
		// Transport failure, recorded on the log with retry budget
		s.jsonResponse(w, map[string]any{
			"error": "transmission failed: " + err.Error(),
			"log":   tlog,
		}, http.StatusBadGateway)

	default:
		s.logger.Error("invoice submission failed", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// Transmission handlers

func (s *Server) handleListTransmissions(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")

	filter := &storage.LogFilter{}
	if documentID := r.URL.Query().Get("documentId"); documentID != "" {
		filter.DocumentID = documentID
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = storage.TransmissionStatus(status)
	}
	if ch := r.URL.Query().Get("channel"); ch != "" {
		filter.Channel = storage.Channel(ch)
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = 50 // Default limit
	} else if filter.Limit > 100 {
		filter.Limit = 100
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	logs, err := s.store.ListLogs(r.Context(), tenantID, filter)
	if err != nil {
		s.logger.Error("failed to list transmission logs", "tenant", tenantID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]any{
		"transmissions": logs,
		"total":         len(logs),
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	}, http.StatusOK)
}

func (s *Server) handleGetTransmission(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	logID := r.PathValue("logID")

	tlog, err := s.store.GetLog(r.Context(), tenantID, logID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.jsonError(w, "transmission log not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to get transmission log", "log_id", logID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, tlog, http.StatusOK)
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	logID := r.PathValue("logID")

	tlog, err := s.pipeline.ConfirmDelivery(r.Context(), tenantID, logID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			s.jsonError(w, "transmission log not found", http.StatusNotFound)
		case errors.Is(err, pipeline.ErrInvalidTransition):
			s.jsonError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, storage.ErrVersionConflict):
			s.jsonError(w, "log changed concurrently, retry", http.StatusConflict)
		default:
			s.logger.Error("failed to confirm delivery", "log_id", logID, "error", err)
			s.jsonError(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	s.jsonResponse(w, tlog, http.StatusOK)
}

// Recipient handlers

func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")

	profiles, err := s.recipients.List(r.Context(), tenantID)
	if err != nil {
		s.logger.Error("failed to list recipients", "tenant", tenantID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, map[string]any{
		"recipients": profiles,
		"total":      len(profiles),
	}, http.StatusOK)
}

func (s *Server) handleGetRecipient(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	recipientID := r.PathValue("recipientID")

	profile, err := s.recipients.Get(r.Context(), tenantID, recipientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.jsonError(w, "recipient not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to get recipient", "recipient_id", recipientID, "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.jsonResponse(w, profile, http.StatusOK)
}

// SaveRecipientRequest carries a channel profile create-or-replace
type SaveRecipientRequest struct {
	RecipientName    string                 `json:"recipientName"`
	PreferredChannel storage.Channel        `json:"preferredTransmissionMethod"`
	Email            *storage.EmailSettings `json:"email,omitempty"`
	EDI              *storage.EDISettings   `json:"edi,omitempty"`
	Agreement        storage.Agreement      `json:"agreements"`
}

func (s *Server) handleSaveRecipient(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	recipientID := r.PathValue("recipientID")

	var req SaveRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	profile, err := s.recipients.Save(r.Context(), tenantID, &recipient.SaveRequest{
		RecipientID:      recipientID,
		RecipientName:    req.RecipientName,
		PreferredChannel: req.PreferredChannel,
		Email:            req.Email,
		EDI:              req.EDI,
		Agreement:        req.Agreement,
	})
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.jsonResponse(w, profile, http.StatusOK)
}

// Response helpers

func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}

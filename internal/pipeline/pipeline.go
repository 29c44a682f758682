// Package pipeline implements the invoice transmission pipeline: it gates
// every document on the compliance check, dispatches it over the
// recipient's configured channel, accounts retries against a fixed budget
// and freezes the audit trail once a log reaches a terminal state.
//
// # State Machine
//
// Every transmission log moves through:
//
//	queued -> sending -> sent -> delivered
//	                  -> failed   (retryable while budget remains)
//	                  -> rejected (remote partner refused the document)
//
// Transitions are monotonic; a log never returns to an earlier state
// except failed -> sending on retry. Delivered, rejected and
// budget-exhausted failed logs are archived in the same update that
// records the terminal status, after which the store refuses further
// mutation.
//
// # Concurrency
//
// Dispatch for one document/recipient pair is serialized with a keyed
// mutex, so a retry cannot overlap the initial attempt in-process.
// Across processes the optimistic version check on every log update
// closes the same race: the slower writer gets ErrVersionConflict
// instead of silently overwriting the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/channel"
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
	"github.com/Andy54411/the-freelancer-marketing-sub034/pkg/compliance"
)

// DefaultMaxRetries is the retry budget applied to new transmission logs
// unless configured otherwise.
const DefaultMaxRetries = 3

// Config holds pipeline configuration
type Config struct {
	// MaxRetries is the per-log retry budget
	MaxRetries int

	// SendTimeout bounds a single channel send attempt
	SendTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:  DefaultMaxRetries,
		SendTimeout: 30 * time.Second,
	}
}

// Senders supplies one sender per supported channel. A nil entry marks
// the channel as unsupported; submissions to it fail with
// UnsupportedChannelError.
type Senders struct {
	Email      channel.Sender
	Webservice channel.Sender
	Portal     channel.Sender
}

// Pipeline coordinates compliance checking, channel dispatch and the
// transmission audit trail. Safe for concurrent use.
type Pipeline struct {
	store   storage.Store
	checker *compliance.Checker
	senders Senders

	maxRetries  int
	sendTimeout time.Duration

	locks  keyedMutex
	logger *slog.Logger
}

// New creates a transmission pipeline
func New(store storage.Store, senders Senders, cfg *Config, logger *slog.Logger) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}

	return &Pipeline{
		store:       store,
		checker:     compliance.NewChecker(),
		senders:     senders,
		maxRetries:  maxRetries,
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Check runs the compliance check without transmitting anything.
func (p *Pipeline) Check(data []byte) *compliance.Verdict {
	return p.checker.Check(data)
}

// SubmitRequest carries one invoice into the pipeline
type SubmitRequest struct {
	TenantID    string
	RecipientID string
	DocumentID  string

	// XML is the structured invoice document; PDF is an optional
	// human-readable rendition attached on the email channel
	XML []byte
	PDF []byte
}

// Submit checks the document, archives it, creates the transmission log
// and performs the first delivery attempt synchronously. The log is
// returned whenever one was created, including alongside a send error so
// the caller can report the recorded outcome.
//
// A non-compliant document yields a ComplianceError and no log: the
// check is a gate, not an advisory.
func (p *Pipeline) Submit(ctx context.Context, req *SubmitRequest) (*storage.TransmissionLog, error) {
	log := p.logger.With(
		"tenant", req.TenantID,
		"document_id", req.DocumentID,
		"recipient_id", req.RecipientID,
	)

	verdict := p.checker.Check(req.XML)
	if !verdict.Compliant {
		log.Warn("document failed compliance check",
			"level", verdict.Level,
			"errors", len(verdict.Errors),
		)
		return nil, &ComplianceError{Verdict: verdict}
	}

	profile, err := p.loadProfile(ctx, req.TenantID, req.RecipientID)
	if err != nil {
		return nil, err
	}
	sender, err := p.senderFor(profile.PreferredChannel)
	if err != nil {
		return nil, err
	}

	archiveRef, err := p.store.StoreDocument(ctx, req.TenantID, &storage.ArchivedDocument{
		DocumentID:  req.DocumentID,
		ContentType: "application/xml",
		Data:        req.XML,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive invoice document: %w", err)
	}
	var pdfRef string
	if len(req.PDF) > 0 {
		pdfRef, err = p.store.StoreDocument(ctx, req.TenantID, &storage.ArchivedDocument{
			DocumentID:  req.DocumentID,
			ContentType: "application/pdf",
			Data:        req.PDF,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to archive PDF rendition: %w", err)
		}
	}

	now := time.Now().UTC()
	tlog := &storage.TransmissionLog{
		DocumentID:       req.DocumentID,
		TenantID:         req.TenantID,
		RecipientID:      req.RecipientID,
		Channel:          profile.PreferredChannel,
		Status:           storage.StatusQueued,
		TransmissionDate: now,
		MaxRetries:       p.maxRetries,
		Compliance:       snapshotOf(verdict),
		ArchiveRef:       archiveRef,
		PDFArchiveRef:    pdfRef,
		ArchivalStatus:   storage.ArchivalActive,
	}
	switch profile.PreferredChannel {
	case storage.ChannelEmail:
		tlog.RecipientEmail = profile.Email.Address
	case storage.ChannelWebservice, storage.ChannelEDI:
		tlog.RecipientEndpoint = profile.EDI.EndpointURL
	}

	if _, err := p.store.InsertLog(ctx, tlog); err != nil {
		return nil, fmt.Errorf("failed to create transmission log: %w", err)
	}
	log.Info("transmission queued", "log_id", tlog.ID, "channel", tlog.Channel)

	unlock := p.locks.lock(lockKey(req.TenantID, req.DocumentID, req.RecipientID))
	defer unlock()

	err = p.dispatch(ctx, tlog, sender, &channel.Delivery{
		DocumentID: req.DocumentID,
		XML:        req.XML,
		PDF:        req.PDF,
		Profile:    profile,
	})
	return tlog, err
}

// Retry re-attempts delivery of a failed log that still has retry budget.
// The payload is rebuilt from the document archive and the recipient's
// current channel configuration.
func (p *Pipeline) Retry(ctx context.Context, tenantID, logID string) (*storage.TransmissionLog, error) {
	tlog, err := p.store.GetLog(ctx, tenantID, logID)
	if err != nil {
		return nil, err
	}
	if !RetryEligible(tlog) {
		return nil, fmt.Errorf("log %s (status %s, retries %d/%d): %w",
			logID, tlog.Status, tlog.RetryCount, tlog.MaxRetries, ErrInvalidTransition)
	}

	profile, err := p.loadProfile(ctx, tenantID, tlog.RecipientID)
	if err != nil {
		return tlog, err
	}
	sender, err := p.senderFor(profile.PreferredChannel)
	if err != nil {
		return tlog, err
	}

	doc, err := p.store.GetDocument(ctx, tenantID, tlog.ArchiveRef)
	if err != nil {
		return tlog, fmt.Errorf("failed to load archived document: %w", err)
	}
	var pdf []byte
	if tlog.PDFArchiveRef != "" {
		rendition, err := p.store.GetDocument(ctx, tenantID, tlog.PDFArchiveRef)
		if err != nil {
			return tlog, fmt.Errorf("failed to load archived PDF rendition: %w", err)
		}
		pdf = rendition.Data
	}

	unlock := p.locks.lock(lockKey(tenantID, tlog.DocumentID, tlog.RecipientID))
	defer unlock()

	err = p.dispatch(ctx, tlog, sender, &channel.Delivery{
		DocumentID: tlog.DocumentID,
		XML:        doc.Data,
		PDF:        pdf,
		Profile:    profile,
	})
	return tlog, err
}

// ConfirmDelivery records an explicit delivery confirmation, moving a
// sent log to delivered and archiving it. Confirming an already
// delivered log is a no-op; any other status is an invalid transition.
func (p *Pipeline) ConfirmDelivery(ctx context.Context, tenantID, logID string) (*storage.TransmissionLog, error) {
	tlog, err := p.store.GetLog(ctx, tenantID, logID)
	if err != nil {
		return nil, err
	}
	if tlog.Status == storage.StatusDelivered {
		return tlog, nil
	}
	if tlog.Status != storage.StatusSent {
		return nil, fmt.Errorf("cannot confirm delivery from status %q: %w", tlog.Status, ErrInvalidTransition)
	}

	now := time.Now().UTC()
	tlog.Status = storage.StatusDelivered
	tlog.DeliveryConfirmation = &now
	tlog.ArchivalStatus = storage.ArchivalArchived
	tlog.ArchivalDate = &now
	if err := p.store.UpdateLog(ctx, tlog); err != nil {
		return nil, fmt.Errorf("failed to record delivery confirmation: %w", err)
	}

	p.logger.Info("delivery confirmed", "tenant", tenantID, "log_id", logID)
	return tlog, nil
}

// RetryEligible reports whether a log may be handed back to a channel
// sender: it must be active, failed and still have retry budget left.
func RetryEligible(log *storage.TransmissionLog) bool {
	return log.ArchivalStatus == storage.ArchivalActive &&
		log.Status == storage.StatusFailed &&
		log.RetryCount < log.MaxRetries
}

// ArchiveEligible reports whether a log has reached a terminal state and
// must be frozen for retention.
func ArchiveEligible(log *storage.TransmissionLog) bool {
	switch log.Status {
	case storage.StatusDelivered, storage.StatusRejected:
		return true
	case storage.StatusFailed:
		return log.RetryCount >= log.MaxRetries
	}
	return false
}

func (p *Pipeline) loadProfile(ctx context.Context, tenantID, recipientID string) (*storage.RecipientProfile, error) {
	profile, err := p.store.GetRecipient(ctx, tenantID, recipientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &ConfigError{RecipientID: recipientID, Detail: "no transmission channel configured", Err: err}
		}
		return nil, fmt.Errorf("failed to load recipient profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, &ConfigError{RecipientID: recipientID, Detail: err.Error()}
	}
	return profile, nil
}

func (p *Pipeline) senderFor(ch storage.Channel) (channel.Sender, error) {
	var s channel.Sender
	switch ch {
	case storage.ChannelEmail:
		s = p.senders.Email
	case storage.ChannelWebservice, storage.ChannelEDI:
		s = p.senders.Webservice
	case storage.ChannelPortal:
		s = p.senders.Portal
	}
	if s == nil {
		return nil, &UnsupportedChannelError{Channel: ch}
	}
	return s, nil
}

// dispatch performs one send attempt and records its outcome. The caller
// holds the keyed mutex for the document/recipient pair.
func (p *Pipeline) dispatch(ctx context.Context, tlog *storage.TransmissionLog, sender channel.Sender, delivery *channel.Delivery) error {
	log := p.logger.With(
		"tenant", tlog.TenantID,
		"log_id", tlog.ID,
		"document_id", tlog.DocumentID,
		"channel", tlog.Channel,
	)

	tlog.Status = storage.StatusSending
	if err := p.store.UpdateLog(ctx, tlog); err != nil {
		return fmt.Errorf("failed to mark log as sending: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	sendErr := sender.Send(sendCtx, delivery)

	if sendErr == nil {
		tlog.Status = storage.StatusSent
		tlog.TransmissionDate = time.Now().UTC()
		tlog.ErrorMessage = ""
		if err := p.store.UpdateLog(ctx, tlog); err != nil {
			return fmt.Errorf("sent but failed to record outcome: %w", err)
		}
		log.Info("invoice transmitted", "retry_count", tlog.RetryCount)
		return nil
	}

	var rejection *channel.RejectionError
	switch {
	case errors.As(sendErr, &rejection):
		tlog.Status = storage.StatusRejected
		tlog.ErrorMessage = rejection.Detail
		log.Warn("invoice rejected by recipient", "detail", rejection.Detail)

	case errors.Is(sendErr, channel.ErrUnsupported):
		// The channel can never succeed, so the log goes terminal
		// instead of burning retries
		tlog.Status = storage.StatusRejected
		tlog.ErrorMessage = sendErr.Error()
		sendErr = &UnsupportedChannelError{Channel: tlog.Channel}
		log.Warn("transmission channel unsupported")

	default:
		tlog.Status = storage.StatusFailed
		tlog.RetryCount++
		tlog.ErrorMessage = sendErr.Error()
		log.Warn("transmission attempt failed",
			"retry_count", tlog.RetryCount,
			"max_retries", tlog.MaxRetries,
			"error", sendErr,
		)
	}

	if ArchiveEligible(tlog) {
		now := time.Now().UTC()
		tlog.ArchivalStatus = storage.ArchivalArchived
		tlog.ArchivalDate = &now
	}
	if err := p.store.UpdateLog(ctx, tlog); err != nil {
		return fmt.Errorf("send failed (%v) and outcome could not be recorded: %w", sendErr, err)
	}
	return sendErr
}

func snapshotOf(v *compliance.Verdict) storage.ComplianceSnapshot {
	return storage.ComplianceSnapshot{
		Compliant: v.Compliant,
		HasRequiredFields: v.Checked.SequentialNumber && v.Checked.IssueDate &&
			v.Checked.SellerData && v.Checked.BuyerData && v.Checked.ValidTax,
		StructuredFormat:  v.Checked.StructuredFormat,
		EnablesProcessing: v.Checked.EnablesProcessing,
		FormatStandard:    string(v.Profile),
	}
}

func lockKey(tenantID, documentID, recipientID string) string {
	return tenantID + "/" + documentID + "/" + recipientID
}

// keyedMutex serializes work per string key. Entries are reference
// counted and removed when the last holder unlocks.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}
	e := k.locks[key]
	if e == nil {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/channel"
	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
	"github.com/Andy54411/the-freelancer-marketing-sub034/pkg/compliance"
)

const compliantInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<rsm:CrossIndustryInvoice
    xmlns:rsm="urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100"
    xmlns:ram="urn:un:unece:uncefact:data:standard:ReusableAggregateBusinessInformationEntity:100"
    xmlns:udt="urn:un:unece:uncefact:data:standard:UnqualifiedDataType:100">
  <rsm:ExchangedDocumentContext>
    <ram:GuidelineSpecifiedDocumentContextParameter>
      <ram:ID>urn:cen.eu:en16931:2017</ram:ID>
    </ram:GuidelineSpecifiedDocumentContextParameter>
  </rsm:ExchangedDocumentContext>
  <rsm:ExchangedDocument>
    <ram:ID>RE-2025-0042</ram:ID>
    <ram:IssueDateTime><udt:DateTimeString format="102">20250115</udt:DateTimeString></ram:IssueDateTime>
  </rsm:ExchangedDocument>
  <rsm:SupplyChainTradeTransaction>
    <ram:ApplicableHeaderTradeAgreement>
      <ram:SellerTradeParty>
        <ram:Name>Muster GmbH</ram:Name>
        <ram:SpecifiedTaxRegistration><ram:ID schemeID="VA">DE123456789</ram:ID></ram:SpecifiedTaxRegistration>
      </ram:SellerTradeParty>
      <ram:BuyerTradeParty>
        <ram:Name>Beispiel Handels AG</ram:Name>
      </ram:BuyerTradeParty>
    </ram:ApplicableHeaderTradeAgreement>
    <ram:ApplicableHeaderTradeSettlement>
      <ram:ApplicableTradeTax>
        <ram:CalculatedAmount>190.00</ram:CalculatedAmount>
        <ram:TypeCode>VAT</ram:TypeCode>
        <ram:BasisAmount>1000.00</ram:BasisAmount>
        <ram:CategoryCode>S</ram:CategoryCode>
        <ram:RateApplicablePercent>19.00</ram:RateApplicablePercent>
      </ram:ApplicableTradeTax>
      <ram:SpecifiedTradePaymentTerms>
        <ram:Description>Zahlbar innerhalb 30 Tagen ohne Abzug</ram:Description>
      </ram:SpecifiedTradePaymentTerms>
    </ram:ApplicableHeaderTradeSettlement>
  </rsm:SupplyChainTradeTransaction>
</rsm:CrossIndustryInvoice>`

// missingSellerTaxInvoice drops the seller's tax registration block
var missingSellerTaxInvoice = strings.Replace(compliantInvoice,
	"<ram:SpecifiedTaxRegistration><ram:ID schemeID=\"VA\">DE123456789</ram:ID></ram:SpecifiedTaxRegistration>", "", 1)

// statusSnapshot records one observed log update for assertions on the
// order of state transitions
type statusSnapshot struct {
	status     storage.TransmissionStatus
	retryCount int
}

type fakeStore struct {
	mu      sync.Mutex
	logs    map[string]*storage.TransmissionLog
	profs   map[string]*storage.RecipientProfile
	docs    map[string]*storage.ArchivedDocument
	seq     int
	history []statusSnapshot

	nextUpdateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		logs:  make(map[string]*storage.TransmissionLog),
		profs: make(map[string]*storage.RecipientProfile),
		docs:  make(map[string]*storage.ArchivedDocument),
	}
}

func (s *fakeStore) InsertLog(_ context.Context, log *storage.TransmissionLog) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	log.ID = "log-" + strconv.Itoa(s.seq)
	log.Version = 1
	now := time.Now()
	log.CreatedAt = now
	log.UpdatedAt = now
	cp := *log
	s.logs[log.TenantID+"/"+log.ID] = &cp
	return log.ID, nil
}

func (s *fakeStore) GetLog(_ context.Context, tenantID, id string) (*storage.TransmissionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[tenantID+"/"+id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *log
	return &cp, nil
}

func (s *fakeStore) UpdateLog(_ context.Context, log *storage.TransmissionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextUpdateErr != nil {
		err := s.nextUpdateErr
		s.nextUpdateErr = nil
		return err
	}
	existing, ok := s.logs[log.TenantID+"/"+log.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if existing.ArchivalStatus == storage.ArchivalArchived {
		return storage.ErrLogArchived
	}
	if existing.Version != log.Version {
		return storage.ErrVersionConflict
	}
	log.Version++
	log.UpdatedAt = time.Now()
	cp := *log
	s.logs[log.TenantID+"/"+log.ID] = &cp
	s.history = append(s.history, statusSnapshot{status: log.Status, retryCount: log.RetryCount})
	return nil
}

func (s *fakeStore) ListLogs(_ context.Context, tenantID string, filter *storage.LogFilter) ([]*storage.TransmissionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.TransmissionLog
	for _, log := range s.logs {
		if log.TenantID != tenantID {
			continue
		}
		if filter != nil && filter.Status != "" && log.Status != filter.Status {
			continue
		}
		cp := *log
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) ListRetryable(_ context.Context, tenantID string, limit int) ([]*storage.TransmissionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.TransmissionLog
	for _, log := range s.logs {
		if log.TenantID != tenantID || !RetryEligible(log) {
			continue
		}
		cp := *log
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) ListTenantsWithActivity(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, log := range s.logs {
		if log.ArchivalStatus == storage.ArchivalActive && !seen[log.TenantID] {
			seen[log.TenantID] = true
			out = append(out, log.TenantID)
		}
	}
	return out, nil
}

func (s *fakeStore) GetRecipient(_ context.Context, companyID, recipientID string) (*storage.RecipientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prof, ok := s.profs[companyID+"/"+recipientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *prof
	return &cp, nil
}

func (s *fakeStore) SaveRecipient(_ context.Context, profile *storage.RecipientProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *profile
	s.profs[profile.CompanyID+"/"+profile.RecipientID] = &cp
	return nil
}

func (s *fakeStore) ListRecipients(_ context.Context, companyID string) ([]*storage.RecipientProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*storage.RecipientProfile
	for _, prof := range s.profs {
		if prof.CompanyID == companyID {
			cp := *prof
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) StoreDocument(_ context.Context, tenantID string, doc *storage.ArchivedDocument) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := "doc-archive-" + strconv.Itoa(s.seq)
	cp := *doc
	cp.ID = id
	s.docs[tenantID+"/"+id] = &cp
	return id, nil
}

func (s *fakeStore) GetDocument(_ context.Context, tenantID, id string) (*storage.ArchivedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[tenantID+"/"+id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *fakeStore) Close(context.Context) error { return nil }
func (s *fakeStore) Ping(context.Context) error  { return nil }

func (s *fakeStore) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

// scriptSender returns errs[i] on the i-th call and succeeds afterwards
type scriptSender struct {
	mu         sync.Mutex
	calls      int
	errs       []error
	deliveries []*channel.Delivery
}

func (s *scriptSender) Send(_ context.Context, d *channel.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.deliveries = append(s.deliveries, d)
	if i < len(s.errs) {
		return s.errs[i]
	}
	return nil
}

func emailRecipient(tenantID, recipientID string) *storage.RecipientProfile {
	return &storage.RecipientProfile{
		CompanyID:        tenantID,
		RecipientID:      recipientID,
		RecipientName:    "Beispiel Handels AG",
		PreferredChannel: storage.ChannelEmail,
		Email: &storage.EmailSettings{
			Address:        "rechnung@beispiel.example",
			AttachmentMode: storage.AttachXMLPDF,
		},
	}
}

func webserviceRecipient(tenantID, recipientID string) *storage.RecipientProfile {
	return &storage.RecipientProfile{
		CompanyID:        tenantID,
		RecipientID:      recipientID,
		PreferredChannel: storage.ChannelWebservice,
		EDI: &storage.EDISettings{
			EndpointURL: "https://edi.partner.example/inbound",
			Protocol:    "PEPPOL",
			Auth: storage.AuthDescriptor{
				Type:        storage.AuthAPIKey,
				Credentials: map[string]string{"apiKey": "key-123"},
			},
		},
	}
}

func newTestPipeline(t *testing.T, store *fakeStore, senders Senders) *Pipeline {
	t.Helper()
	return New(store, senders, nil, nil)
}

func TestSubmit_NonCompliantDocumentCreatesNoLog(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), emailRecipient("tenant-1", "rec-1")))
	p := newTestPipeline(t, store, Senders{Email: &scriptSender{}})

	_, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-1",
		DocumentID:  "inv-1",
		XML:         []byte(missingSellerTaxInvoice),
	})
	require.Error(t, err)

	var ce *ComplianceError
	require.True(t, errors.As(err, &ce))
	assert.False(t, ce.Verdict.Compliant)
	assert.False(t, ce.Verdict.Checked.SellerData)
	assert.Equal(t, compliance.LevelPartial, ce.Verdict.Level)
	require.Len(t, ce.Verdict.Errors, 1)
	assert.Contains(t, ce.Verdict.Errors[0], "seller")

	assert.Equal(t, 0, store.logCount(), "a non-compliant submission must not leave a log behind")
}

func TestSubmit_EmailSuccess(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), emailRecipient("tenant-1", "rec-1")))
	sender := &scriptSender{}
	p := newTestPipeline(t, store, Senders{Email: sender})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-1",
		DocumentID:  "inv-1",
		XML:         []byte(compliantInvoice),
		PDF:         []byte("%PDF-1.7"),
	})
	require.NoError(t, err)
	require.NotNil(t, tlog)

	assert.Equal(t, storage.StatusSent, tlog.Status)
	assert.Equal(t, 0, tlog.RetryCount)
	assert.Equal(t, storage.ChannelEmail, tlog.Channel)
	assert.Equal(t, "rechnung@beispiel.example", tlog.RecipientEmail)
	assert.Empty(t, tlog.RecipientEndpoint)
	assert.Equal(t, storage.ArchivalActive, tlog.ArchivalStatus)

	// Frozen compliance evidence
	assert.True(t, tlog.Compliance.Compliant)
	assert.True(t, tlog.Compliance.HasRequiredFields)
	assert.True(t, tlog.Compliance.StructuredFormat)
	assert.True(t, tlog.Compliance.EnablesProcessing)
	assert.Equal(t, "EN16931", tlog.Compliance.FormatStandard)

	// Both renditions archived and handed to the sender
	require.NotEmpty(t, tlog.ArchiveRef)
	doc, err := store.GetDocument(context.Background(), "tenant-1", tlog.ArchiveRef)
	require.NoError(t, err)
	assert.Equal(t, []byte(compliantInvoice), doc.Data)

	require.NotEmpty(t, tlog.PDFArchiveRef)
	rendition, err := store.GetDocument(context.Background(), "tenant-1", tlog.PDFArchiveRef)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", rendition.ContentType)
	assert.Equal(t, []byte("%PDF-1.7"), rendition.Data)

	require.Len(t, sender.deliveries, 1)
	assert.Equal(t, []byte("%PDF-1.7"), sender.deliveries[0].PDF)
}

func TestRetry_RestoresPDFRendition(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), emailRecipient("tenant-1", "rec-1")))
	sender := &scriptSender{errs: []error{errors.New("smtp relay unavailable")}}
	p := newTestPipeline(t, store, Senders{Email: sender})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-1",
		DocumentID:  "inv-7",
		XML:         []byte(compliantInvoice),
		PDF:         []byte("%PDF-1.7 rendition"),
	})
	require.Error(t, err)
	require.NotNil(t, tlog)
	require.NotEmpty(t, tlog.PDFArchiveRef)

	tlog, err = p.Retry(context.Background(), "tenant-1", tlog.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, tlog.Status)

	// The recipient expects xml_pdf on every attempt, not just the first
	require.Len(t, sender.deliveries, 2)
	assert.Equal(t, []byte("%PDF-1.7 rendition"), sender.deliveries[0].PDF)
	assert.Equal(t, []byte("%PDF-1.7 rendition"), sender.deliveries[1].PDF)
	assert.Equal(t, []byte(compliantInvoice), sender.deliveries[1].XML)
}

func TestSubmit_WebserviceRetriesUntilSuccess(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), webserviceRecipient("tenant-1", "rec-2")))
	sender := &scriptSender{errs: []error{
		errors.New("connection timed out"),
		errors.New("connection timed out"),
	}}
	p := newTestPipeline(t, store, Senders{Webservice: sender})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-2",
		DocumentID:  "inv-2",
		XML:         []byte(compliantInvoice),
	})
	require.Error(t, err)
	require.NotNil(t, tlog)
	assert.Equal(t, storage.StatusFailed, tlog.Status)
	assert.Equal(t, 1, tlog.RetryCount)
	assert.True(t, RetryEligible(tlog))

	tlog, err = p.Retry(context.Background(), "tenant-1", tlog.ID)
	require.Error(t, err)
	assert.Equal(t, storage.StatusFailed, tlog.Status)
	assert.Equal(t, 2, tlog.RetryCount)
	assert.True(t, RetryEligible(tlog))

	tlog, err = p.Retry(context.Background(), "tenant-1", tlog.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSent, tlog.Status)
	assert.Equal(t, 2, tlog.RetryCount, "a successful retry must not consume budget")

	assert.Equal(t, []statusSnapshot{
		{storage.StatusSending, 0},
		{storage.StatusFailed, 1},
		{storage.StatusSending, 1},
		{storage.StatusFailed, 2},
		{storage.StatusSending, 2},
		{storage.StatusSent, 2},
	}, store.history)
}

func TestSubmit_RetryBudgetExhausted(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), webserviceRecipient("tenant-1", "rec-2")))
	sender := &scriptSender{errs: []error{
		errors.New("bad gateway"),
		errors.New("bad gateway"),
		errors.New("bad gateway"),
	}}
	p := newTestPipeline(t, store, Senders{Webservice: sender})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-2",
		DocumentID:  "inv-3",
		XML:         []byte(compliantInvoice),
	})
	require.Error(t, err)

	tlog, err = p.Retry(context.Background(), "tenant-1", tlog.ID)
	require.Error(t, err)
	tlog, err = p.Retry(context.Background(), "tenant-1", tlog.ID)
	require.Error(t, err)

	assert.Equal(t, storage.StatusFailed, tlog.Status)
	assert.Equal(t, 3, tlog.RetryCount)
	assert.False(t, RetryEligible(tlog))
	assert.Equal(t, storage.ArchivalArchived, tlog.ArchivalStatus, "exhausted logs are frozen for retention")
	require.NotNil(t, tlog.ArchivalDate)

	_, err = p.Retry(context.Background(), "tenant-1", tlog.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestSubmit_PartnerRejectionIsTerminal(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), webserviceRecipient("tenant-1", "rec-2")))
	sender := &scriptSender{errs: []error{
		fmt.Errorf("delivery refused: %w", &channel.RejectionError{Detail: "unsupported invoice profile"}),
	}}
	p := newTestPipeline(t, store, Senders{Webservice: sender})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-2",
		DocumentID:  "inv-4",
		XML:         []byte(compliantInvoice),
	})
	require.Error(t, err)

	assert.Equal(t, storage.StatusRejected, tlog.Status)
	assert.Equal(t, 0, tlog.RetryCount, "a rejection consumes no retry budget")
	assert.Equal(t, "unsupported invoice profile", tlog.ErrorMessage)
	assert.Equal(t, storage.ArchivalArchived, tlog.ArchivalStatus)
	assert.False(t, RetryEligible(tlog))
}

func TestSubmit_PortalChannelUnsupported(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), &storage.RecipientProfile{
		CompanyID:        "tenant-1",
		RecipientID:      "rec-3",
		PreferredChannel: storage.ChannelPortal,
	}))
	p := newTestPipeline(t, store, Senders{Portal: channel.NewPortalSender()})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-3",
		DocumentID:  "inv-5",
		XML:         []byte(compliantInvoice),
	})
	require.Error(t, err)

	var uce *UnsupportedChannelError
	require.True(t, errors.As(err, &uce))
	assert.Equal(t, storage.ChannelPortal, uce.Channel)

	// The attempt is still recorded as a terminal rejection so the
	// requeuer never picks it up
	require.NotNil(t, tlog)
	assert.Equal(t, storage.StatusRejected, tlog.Status)
	assert.Equal(t, 0, tlog.RetryCount)
	assert.Equal(t, storage.ArchivalArchived, tlog.ArchivalStatus)
	assert.False(t, RetryEligible(tlog))
}

func TestSubmit_MissingRecipientConfig(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, store, Senders{Email: &scriptSender{}})

	_, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "unknown",
		DocumentID:  "inv-6",
		XML:         []byte(compliantInvoice),
	})
	require.Error(t, err)

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "unknown", ce.RecipientID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Equal(t, 0, store.logCount())
}

func TestSubmit_InvalidChannelDescriptor(t *testing.T) {
	store := newFakeStore()
	profile := emailRecipient("tenant-1", "rec-1")
	profile.Email = nil
	require.NoError(t, store.SaveRecipient(context.Background(), profile))
	p := newTestPipeline(t, store, Senders{Email: &scriptSender{}})

	_, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-1",
		DocumentID:  "inv-7",
		XML:         []byte(compliantInvoice),
	})
	require.Error(t, err)

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Detail, "email")
	assert.Equal(t, 0, store.logCount())
}

func TestConfirmDelivery(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), emailRecipient("tenant-1", "rec-1")))
	p := newTestPipeline(t, store, Senders{Email: &scriptSender{}})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-1",
		DocumentID:  "inv-8",
		XML:         []byte(compliantInvoice),
	})
	require.NoError(t, err)
	require.Equal(t, storage.StatusSent, tlog.Status)

	confirmed, err := p.ConfirmDelivery(context.Background(), "tenant-1", tlog.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDelivered, confirmed.Status)
	require.NotNil(t, confirmed.DeliveryConfirmation)
	assert.Equal(t, storage.ArchivalArchived, confirmed.ArchivalStatus)

	// Idempotent re-confirmation
	again, err := p.ConfirmDelivery(context.Background(), "tenant-1", tlog.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDelivered, again.Status)
}

func TestConfirmDelivery_InvalidFromFailed(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), webserviceRecipient("tenant-1", "rec-2")))
	sender := &scriptSender{errs: []error{errors.New("unreachable")}}
	p := newTestPipeline(t, store, Senders{Webservice: sender})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-2",
		DocumentID:  "inv-9",
		XML:         []byte(compliantInvoice),
	})
	require.Error(t, err)
	require.Equal(t, storage.StatusFailed, tlog.Status)

	_, err = p.ConfirmDelivery(context.Background(), "tenant-1", tlog.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestConfirmDelivery_VersionConflictPropagates(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), emailRecipient("tenant-1", "rec-1")))
	p := newTestPipeline(t, store, Senders{Email: &scriptSender{}})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-1",
		DocumentID:  "inv-10",
		XML:         []byte(compliantInvoice),
	})
	require.NoError(t, err)

	store.mu.Lock()
	store.nextUpdateErr = storage.ErrVersionConflict
	store.mu.Unlock()

	_, err = p.ConfirmDelivery(context.Background(), "tenant-1", tlog.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))
}

func TestRetryEligible(t *testing.T) {
	base := storage.TransmissionLog{
		Status:         storage.StatusFailed,
		RetryCount:     1,
		MaxRetries:     3,
		ArchivalStatus: storage.ArchivalActive,
	}

	assert.True(t, RetryEligible(&base))

	exhausted := base
	exhausted.RetryCount = 3
	assert.False(t, RetryEligible(&exhausted))

	sent := base
	sent.Status = storage.StatusSent
	assert.False(t, RetryEligible(&sent))

	archived := base
	archived.ArchivalStatus = storage.ArchivalArchived
	assert.False(t, RetryEligible(&archived))
}

func TestArchiveEligible(t *testing.T) {
	cases := []struct {
		status     storage.TransmissionStatus
		retryCount int
		want       bool
	}{
		{storage.StatusQueued, 0, false},
		{storage.StatusSending, 0, false},
		{storage.StatusSent, 0, false},
		{storage.StatusDelivered, 0, true},
		{storage.StatusRejected, 0, true},
		{storage.StatusFailed, 1, false},
		{storage.StatusFailed, 3, true},
	}
	for _, tc := range cases {
		log := &storage.TransmissionLog{Status: tc.status, RetryCount: tc.retryCount, MaxRetries: 3}
		assert.Equal(t, tc.want, ArchiveEligible(log), "status=%s retries=%d", tc.status, tc.retryCount)
	}
}

func TestCheck_DoesNotTransmit(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, store, Senders{})

	verdict := p.Check([]byte(compliantInvoice))
	assert.True(t, verdict.Compliant)
	assert.Equal(t, compliance.LevelFull, verdict.Level)
	assert.Equal(t, 0, store.logCount())
}

func TestRequeuer_RetriesFailedLogs(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), webserviceRecipient("tenant-1", "rec-2")))
	sender := &scriptSender{errs: []error{errors.New("connection timed out")}}
	p := newTestPipeline(t, store, Senders{Webservice: sender})

	tlog, err := p.Submit(context.Background(), &SubmitRequest{
		TenantID:    "tenant-1",
		RecipientID: "rec-2",
		DocumentID:  "inv-11",
		XML:         []byte(compliantInvoice),
	})
	require.Error(t, err)
	require.Equal(t, storage.StatusFailed, tlog.Status)

	r := NewRequeuer(p, &RequeuerConfig{PollInterval: 10 * time.Millisecond, BatchSize: 5}, nil)
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		got, err := store.GetLog(context.Background(), "tenant-1", tlog.ID)
		return err == nil && got.Status == storage.StatusSent
	}, 2*time.Second, 10*time.Millisecond)

	got, err := store.GetLog(context.Background(), "tenant-1", tlog.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
}

func TestSubmit_ConcurrentSameDocumentSerialized(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SaveRecipient(context.Background(), emailRecipient("tenant-1", "rec-1")))

	var inFlight, maxInFlight int
	var mu sync.Mutex
	sender := channel.Sender(senderFunc(func(ctx context.Context, d *channel.Delivery) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}))
	p := newTestPipeline(t, store, Senders{Email: sender})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), &SubmitRequest{
				TenantID:    "tenant-1",
				RecipientID: "rec-1",
				DocumentID:  "inv-12",
				XML:         []byte(compliantInvoice),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "sends for one document/recipient pair must not overlap")
}

type senderFunc func(ctx context.Context, d *channel.Delivery) error

func (f senderFunc) Send(ctx context.Context, d *channel.Delivery) error { return f(ctx, d) }

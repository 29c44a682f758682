// Package recipient provides recipient channel-configuration business
// logic on top of the storage layer, with a read-through cache for the
// hot pipeline path.
package recipient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
)

// Service manages recipient channel profiles
type Service struct {
	store  storage.RecipientStore
	logger *slog.Logger

	// Cache for profile lookups on the send path
	mu       sync.RWMutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration
}

type cacheEntry struct {
	profile  *storage.RecipientProfile
	cachedAt time.Time
}

// Config holds service configuration
type Config struct {
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// NewService creates a recipient configuration service
func NewService(store storage.RecipientStore, cfg *Config) *Service {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Service{
		store:    store,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
	}
}

// Get returns a recipient profile, serving cached entries while fresh
func (s *Service) Get(ctx context.Context, companyID, recipientID string) (*storage.RecipientProfile, error) {
	key := companyID + "/" + recipientID

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < s.cacheTTL {
		return entry.profile, nil
	}

	profile, err := s.store.GetRecipient(ctx, companyID, recipientID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{profile: profile, cachedAt: time.Now()}
	s.mu.Unlock()

	return profile, nil
}

// List returns all profiles for a company, bypassing the cache
func (s *Service) List(ctx context.Context, companyID string) ([]*storage.RecipientProfile, error) {
	return s.store.ListRecipients(ctx, companyID)
}

// SaveRequest carries a profile create-or-replace
type SaveRequest struct {
	RecipientID      string
	RecipientName    string
	PreferredChannel storage.Channel
	Email            *storage.EmailSettings
	EDI              *storage.EDISettings
	Agreement        storage.Agreement
}

// Save validates and persists a recipient profile, invalidating any
// cached copy so the pipeline sees the change on its next lookup
func (s *Service) Save(ctx context.Context, companyID string, req *SaveRequest) (*storage.RecipientProfile, error) {
	if req.RecipientID == "" {
		return nil, fmt.Errorf("recipient ID is required")
	}

	now := time.Now().UTC()
	profile := &storage.RecipientProfile{
		CompanyID:        companyID,
		RecipientID:      req.RecipientID,
		RecipientName:    req.RecipientName,
		PreferredChannel: req.PreferredChannel,
		Email:            req.Email,
		EDI:              req.EDI,
		Agreement:        req.Agreement,
		UpdatedAt:        now,
	}
	if existing, err := s.store.GetRecipient(ctx, companyID, req.RecipientID); err == nil {
		profile.ID = existing.ID
		profile.CreatedAt = existing.CreatedAt
	} else {
		profile.CreatedAt = now
	}

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid channel configuration: %w", err)
	}

	if err := s.store.SaveRecipient(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save recipient profile: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, companyID+"/"+req.RecipientID)
	s.mu.Unlock()

	s.logger.Info("recipient profile saved",
		"company_id", companyID,
		"recipient_id", req.RecipientID,
		"channel", req.PreferredChannel,
	)
	return profile, nil
}

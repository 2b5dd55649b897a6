package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/pythonitalia/pycon-association/app/models"
	"gorm.io/gorm"
)

// Service is the webhook delivery log shared by all payment providers.
type Service struct {
	repo Repository
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// RecordWebhookEvent persists a delivery idempotently and counts the attempt.
// The returned event tells the caller whether it was already handled.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		eventID = PayloadEventID(in.PayloadJSON)
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	created, stored, err := s.repo.CreateWebhookEventIfNotExists(event)
	if err != nil {
		return false, nil, err
	}
	if err := s.repo.IncrementAttempts(stored.ID); err != nil {
		return created, stored, err
	}
	stored.Attempts++
	return created, stored, nil
}

// MarkWebhookProcessed marks an event as handled with its outcome and an
// optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, outcome string, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, strings.TrimSpace(outcome), errMsg)
}

// MarkWebhookFailed records a retryable failure.
func (s *Service) MarkWebhookFailed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := "unknown error"
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookFailed(webhookEventID, errMsg)
}

// ListStuck returns deliveries still unprocessed after age.
func (s *Service) ListStuck(ctx context.Context, age time.Duration, limit int) ([]models.BillingWebhookEvent, error) {
	_ = ctx
	return s.repo.ListUnprocessed(time.Now().UTC().Add(-age), limit)
}

// PayloadEventID derives a delivery id for providers that send none.
func PayloadEventID(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return "hash:" + hex.EncodeToString(sum[:])
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pythonitalia/pycon-association/app/models"
	"github.com/pythonitalia/pycon-association/internal/pkg/database"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := database.Config()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return NewServiceFromDB(db), db
}

func TestRecordWebhookEvent_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	in := WebhookEventInput{Provider: "Stripe", ProviderEventID: "evt_1", EventType: "invoice.paid", PayloadJSON: `{}`, SignatureValid: true}

	created, first, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "stripe", first.Provider)
	assert.Equal(t, 1, first.Attempts)
	assert.False(t, first.IsHandled())

	created, second, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempts)
}

func TestRecordWebhookEvent_HashFallback(t *testing.T) {
	svc, _ := newTestService(t)

	_, ev, err := svc.RecordWebhookEvent(context.Background(), WebhookEventInput{Provider: "pretix", PayloadJSON: `{"code":"A"}`})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ev.ProviderEventID, "hash:"))
	assert.Equal(t, PayloadEventID(`{"code":"A"}`), ev.ProviderEventID)

	_, _, err = svc.RecordWebhookEvent(context.Background(), WebhookEventInput{})
	assert.Error(t, err)
}

func TestMarkWebhook(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, ev, err := svc.RecordWebhookEvent(ctx, WebhookEventInput{Provider: "pretix", ProviderEventID: "1", PayloadJSON: `{}`})
	require.NoError(t, err)

	require.NoError(t, svc.MarkWebhookFailed(ctx, ev.ID, errors.New("pretix unavailable")))
	var stored models.BillingWebhookEvent
	require.NoError(t, db.First(&stored, ev.ID).Error)
	assert.False(t, stored.IsHandled())
	assert.Equal(t, "pretix unavailable", stored.ProcessingError)

	stuck, err := svc.ListStuck(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, stuck, 1)

	require.NoError(t, svc.MarkWebhookProcessed(ctx, ev.ID, "admitted", nil))
	require.NoError(t, db.First(&stored, ev.ID).Error)
	assert.True(t, stored.IsHandled())
	assert.Equal(t, "admitted", stored.Outcome)
	assert.Empty(t, stored.ProcessingError)

	assert.Error(t, svc.MarkWebhookProcessed(ctx, 0, "", nil))
	assert.Error(t, svc.MarkWebhookFailed(ctx, 0, nil))
}

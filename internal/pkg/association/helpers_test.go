package association

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pythonitalia/pycon-association/app/models"
	"github.com/pythonitalia/pycon-association/internal/pkg/database"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Use a per-test in-memory database to avoid cross-test interference
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	cfg := database.Config()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// openSharedTestDB opens a file database that allows several connections, for
// tests that exercise concurrent writers.
func openSharedTestDB(t *testing.T, conns int) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s/association.db?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL", t.TempDir())

	cfg := database.Config()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, email string) uint {
	t.Helper()
	u, err := models.NewUser("Test User", email)
	require.NoError(t, err)
	require.NoError(t, db.Create(u).Error)
	return u.ID
}

func pretixClaim(userID uint, code string, start time.Time) Claim {
	return Claim{
		Provider:    models.PaymentProviderPretix,
		DedupeKey:   PretixDedupeKey("pycon", "pycon-2026", code),
		UserID:      userID,
		Amount:      2500,
		Total:       2500,
		PaymentDate: start,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(1, 0, 0),
		Pretix: &PretixProvenance{
			Organizer: "pycon",
			Event:     "pycon-2026",
			OrderCode: code,
		},
	}
}

func stripeClaim(userID uint, invoiceID string, start, end time.Time) Claim {
	return Claim{
		Provider:    models.PaymentProviderStripe,
		DedupeKey:   StripeDedupeKey(invoiceID),
		UserID:      userID,
		Amount:      1000,
		Total:       1000,
		PaymentDate: start,
		PeriodStart: start,
		PeriodEnd:   end,
		Stripe: &StripeProvenance{
			SubscriptionID: "sub_123",
			InvoiceID:      invoiceID,
		},
	}
}

type services struct {
	db        *gorm.DB
	registry  *Registry
	ledger    *Ledger
	activator *Activator
	admitter  *Admitter
}

func newServices(t *testing.T, now time.Time) *services {
	t.Helper()
	db := openTestDB(t)
	activator := NewActivator(db, fixedClock(now))
	return &services{
		db:        db,
		registry:  NewRegistry(db),
		ledger:    NewLedger(db),
		activator: activator,
		admitter:  NewAdmitter(db, activator),
	}
}

func countPayments(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&n).Error)
	return n
}

// seedMembership stores a membership in status with one payment per window.
func seedMembership(t *testing.T, s *services, email string, status models.MembershipStatus, windows ...[2]time.Time) *models.Membership {
	t.Helper()
	userID := createUser(t, s.db, email)
	m := &models.Membership{UserID: userID, Status: status}
	require.NoError(t, s.db.Create(m).Error)
	for i, w := range windows {
		p := &models.Payment{
			MembershipID: m.ID,
			Provider:     models.PaymentProviderPretix,
			DedupeKey:    fmt.Sprintf("seed:%s:%d", email, i),
			Total:        2500,
			Status:       models.PaymentStatusPaid,
			PaymentDate:  w[0],
			PeriodStart:  w[0],
			PeriodEnd:    w[1],
		}
		require.NoError(t, s.db.Create(p).Error)
	}
	return m
}

package repository_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/storybook/internal/config"
	"github.com/digkill/storybook/internal/database"
	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/repository"
)

// openMySQL connects to the database named by STORYBOOK_TEST_MYSQL_DSN and
// applies the migrations. The DSN needs parseTime=true. Tests skip without it.
func openMySQL(t *testing.T) *repository.MySQLStore {
	t.Helper()
	dsn := os.Getenv("STORYBOOK_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("STORYBOOK_TEST_MYSQL_DSN not set")
	}
	db, err := database.Connect(config.DBConfig{DSN: dsn, MaxOpenConns: 16, MaxIdleConns: 4, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return repository.NewMySQLStore(db)
}

func mysqlProfile(t *testing.T, s *repository.MySQLStore) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	require.NoError(t, s.EnsureProfile(context.Background(), userID, "kid@example.com"))
	return userID
}

func TestMySQLConsumeCreditFreeThenPaidThenDenied(t *testing.T) {
	s := openMySQL(t)
	ctx := context.Background()
	userID := mysqlProfile(t, s)

	_, applied, err := s.AddCredits(ctx, repository.AddCreditsParams{
		UserID: userID, PackName: "starter", Credits: 1, PriceCents: 499,
		PaymentRef: "cs_" + uuid.NewString(), ExpiresAt: time.Now().AddDate(1, 0, 0), CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, applied)

	entry, err := s.ConsumeCredit(ctx, userID, uuid.New(), 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.CreditSourceFree, entry.Source)

	entry, err = s.ConsumeCredit(ctx, userID, uuid.New(), 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.CreditSourcePaid, entry.Source)
	assert.Equal(t, 0, entry.BalanceAfter)

	_, err = s.ConsumeCredit(ctx, userID, uuid.New(), 1, time.Now())
	require.ErrorIs(t, err, repository.ErrNoCredits)
}

func TestMySQLConcurrentDebitsNeverOverspend(t *testing.T) {
	s := openMySQL(t)
	ctx := context.Background()
	userID := mysqlProfile(t, s)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeCredit(ctx, userID, uuid.New(), 3, time.Now()); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	profile, err := s.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, profile.FreeSavesUsed)
	assert.Equal(t, 0, profile.CreditBalance)
}

func TestMySQLAddCreditsAppliesPaymentOnce(t *testing.T) {
	s := openMySQL(t)
	ctx := context.Background()
	userID := mysqlProfile(t, s)
	params := repository.AddCreditsParams{
		UserID: userID, PackName: "creator", Credits: 10, PriceCents: 1499,
		PaymentRef: "cs_" + uuid.NewString(), ExpiresAt: time.Now().AddDate(1, 0, 0), CreatedAt: time.Now(),
	}

	const deliveries = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			balance, ok, err := s.AddCredits(ctx, params)
			assert.NoError(t, err)
			assert.Equal(t, 10, balance)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	txs, err := s.ListTransactions(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestMySQLTerminalOrderKeepsStatus(t *testing.T) {
	s := openMySQL(t)
	ctx := context.Background()
	userID := mysqlProfile(t, s)

	creation := &models.Creation{ID: uuid.New(), UserID: userID, Title: "Dragon", CreatedAt: time.Now().UTC()}
	_, err := s.SaveWithCredit(ctx, creation, 3)
	require.NoError(t, err)

	now := time.Now().UTC()
	order := &models.Order{
		ID: uuid.New(), UserID: userID, CreationID: creation.ID, OrderType: models.ProductSoftcover,
		Status: models.OrderPending, BookCostCents: 2999, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateOrder(ctx, order))

	applied, err := s.MarkPaymentReceived(ctx, order.ID, "pi_"+uuid.NewString(), 3500)
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = s.ApplyFulfillmentUpdate(ctx, order.ID, models.FulfillmentUpdate{Status: models.OrderCancelled})
	require.NoError(t, err)
	_, err = s.ApplyFulfillmentUpdate(ctx, order.ID, models.FulfillmentUpdate{Status: models.OrderShipped})
	require.ErrorIs(t, err, repository.ErrOrderTerminal)

	stored, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, stored.Status)
}

func TestMySQLMissingOrder(t *testing.T) {
	s := openMySQL(t)
	_, err := s.GetOrder(context.Background(), uuid.New())
	require.ErrorIs(t, err, repository.ErrNotFound)
	assert.NotErrorIs(t, err, sql.ErrNoRows)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/database"
	"github.com/digkill/storybook/internal/models"
)

const mysqlDuplicateEntry = 1062

type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) EnsureProfile(ctx context.Context, userID uuid.UUID, email string) error {
	const query = `
INSERT INTO profiles (user_id, email) VALUES (?, NULLIF(?, ''))
ON DUPLICATE KEY UPDATE email = COALESCE(NULLIF(VALUES(email), ''), email)`
	if _, err := r.db.ExecContext(ctx, query, userID, email); err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

func (r *CreditRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	const query = `
SELECT p.user_id, COALESCE(p.email, ''), p.free_saves_used, p.credit_balance,
       (SELECT COUNT(*) FROM credit_transactions t WHERE t.user_id = p.user_id AND t.type = 'usage' AND t.source = 'paid'),
       p.subscription_tier, p.subscription_expires_at, p.created_at, p.updated_at
FROM profiles p WHERE p.user_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID)
	var p models.Profile
	var tier string
	var expires sql.NullTime
	if err := row.Scan(&p.UserID, &p.Email, &p.FreeSavesUsed, &p.CreditBalance, &p.PaidSavesUsed, &tier, &expires, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.SubscriptionTier = models.SubscriptionTier(tier)
	if expires.Valid {
		p.SubscriptionExpiresAt = &expires.Time
	}
	return &p, nil
}

func (r *CreditRepository) ConsumeCredit(ctx context.Context, userID, creationID uuid.UUID, freeLimit int, now time.Time) (*models.CreditTransaction, error) {
	var entry *models.CreditTransaction
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		entry, err = consumeCredit(ctx, tx, userID, creationID, freeLimit, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// consumeCredit relies on the conditional UPDATE row lock: a concurrent
// transaction re-evaluates the WHERE clause after commit and matches nothing.
func consumeCredit(ctx context.Context, tx *sql.Tx, userID, creationID uuid.UUID, freeLimit int, now time.Time) (*models.CreditTransaction, error) {
	const useFree = `
UPDATE profiles SET free_saves_used = free_saves_used + 1, updated_at = NOW()
WHERE user_id = ? AND free_saves_used < ?`
	const usePaid = `
UPDATE profiles SET credit_balance = credit_balance - 1, updated_at = NOW()
WHERE user_id = ? AND credit_balance > 0`

	source := models.CreditSourceFree
	amount := 0
	ok, err := execAffected(ctx, tx, useFree, userID, freeLimit)
	if err != nil {
		return nil, fmt.Errorf("consume free slot: %w", err)
	}
	if !ok {
		ok, err = execAffected(ctx, tx, usePaid, userID)
		if err != nil {
			return nil, fmt.Errorf("consume paid credit: %w", err)
		}
		if !ok {
			return nil, ErrNoCredits
		}
		source = models.CreditSourcePaid
		amount = -1
	}

	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT credit_balance FROM profiles WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	entry := &models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         models.TransactionUsage,
		Amount:       amount,
		BalanceAfter: balance,
		Source:       source,
		CreationID:   &creationID,
		CreatedAt:    now,
	}
	if err := insertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *CreditRepository) AddCredits(ctx context.Context, params AddCreditsParams) (int, bool, error) {
	var balance int
	applied := false
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT credit_balance FROM profiles WHERE user_id = ? FOR UPDATE`, params.UserID).Scan(&balance); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock profile: %w", err)
		}

		var seen int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM credit_transactions WHERE payment_ref = ?`, params.PaymentRef).Scan(&seen); err != nil {
			return fmt.Errorf("check payment ref: %w", err)
		}
		if seen > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE profiles SET credit_balance = credit_balance + ?, updated_at = NOW() WHERE user_id = ?`, params.Credits, params.UserID); err != nil {
			return fmt.Errorf("add paid credits: %w", err)
		}
		balance += params.Credits

		expires := params.ExpiresAt
		entry := &models.CreditTransaction{
			ID:           uuid.New(),
			UserID:       params.UserID,
			Type:         models.TransactionPurchase,
			Amount:       params.Credits,
			BalanceAfter: balance,
			PackName:     params.PackName,
			PriceCents:   params.PriceCents,
			PaymentRef:   params.PaymentRef,
			ExpiresAt:    &expires,
			CreatedAt:    params.CreatedAt,
		}
		if err := insertTransaction(ctx, tx, entry); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			// a concurrent delivery of the same payment won the insert
			profile, getErr := r.GetProfile(ctx, params.UserID)
			if getErr != nil {
				return 0, false, getErr
			}
			return profile.CreditBalance, false, nil
		}
		return 0, false, err
	}
	return balance, applied, nil
}

func (r *CreditRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.CreditTransaction, error) {
	const query = `
SELECT id, user_id, type, amount, balance_after, COALESCE(source, ''), COALESCE(pack_name, ''), COALESCE(price_cents, 0),
       COALESCE(payment_ref, ''), expires_at, creation_id, created_at
FROM credit_transactions
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var entries []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		var txType, source string
		var expires sql.NullTime
		var creationID uuid.NullUUID
		if err := rows.Scan(&t.ID, &t.UserID, &txType, &t.Amount, &t.BalanceAfter, &source, &t.PackName, &t.PriceCents, &t.PaymentRef, &expires, &creationID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		t.Type = models.TransactionType(txType)
		t.Source = models.CreditSource(source)
		if expires.Valid {
			t.ExpiresAt = &expires.Time
		}
		if creationID.Valid {
			t.CreationID = &creationID.UUID
		}
		entries = append(entries, t)
	}
	return entries, rows.Err()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t *models.CreditTransaction) error {
	const query = `
INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, source, pack_name, price_cents, payment_ref, expires_at, creation_id, created_at)
VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, 0), NULLIF(?, ''), ?, ?, ?)`
	var creationID any
	if t.CreationID != nil {
		creationID = *t.CreationID
	}
	var expires any
	if t.ExpiresAt != nil {
		expires = *t.ExpiresAt
	}
	if _, err := tx.ExecContext(ctx, query, t.ID, t.UserID, t.Type, t.Amount, t.BalanceAfter, t.Source, t.PackName, t.PriceCents, t.PaymentRef, expires, creationID, t.CreatedAt); err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	return nil
}

func execAffected(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/digkill/storybook/internal/models"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const packColumns = `
SELECT name, title, credits, price_cents, currency, is_active, created_at, updated_at
FROM credit_packs`

func (r *CatalogRepository) ListPacks(ctx context.Context) ([]models.CreditPack, error) {
	rows, err := r.db.QueryContext(ctx, packColumns+` ORDER BY credits ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	defer rows.Close()

	var packs []models.CreditPack
	for rows.Next() {
		var pack models.CreditPack
		if err := rows.Scan(&pack.Name, &pack.Title, &pack.Credits, &pack.PriceCents, &pack.Currency, &pack.IsActive, &pack.CreatedAt, &pack.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pack: %w", err)
		}
		packs = append(packs, pack)
	}
	return packs, rows.Err()
}

func (r *CatalogRepository) GetPack(ctx context.Context, name string) (*models.CreditPack, error) {
	row := r.db.QueryRowContext(ctx, packColumns+` WHERE name = ?`, name)
	var pack models.CreditPack
	if err := row.Scan(&pack.Name, &pack.Title, &pack.Credits, &pack.PriceCents, &pack.Currency, &pack.IsActive, &pack.CreatedAt, &pack.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pack: %w", err)
	}
	return &pack, nil
}

func (r *CatalogRepository) CreatePack(ctx context.Context, pack *models.CreditPack) (*models.CreditPack, error) {
	const query = `
INSERT INTO credit_packs (name, title, credits, price_cents, currency, is_active)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, pack.Name, pack.Title, pack.Credits, pack.PriceCents, pack.Currency, pack.IsActive); err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create pack: %w", err)
	}
	return r.GetPack(ctx, pack.Name)
}

func (r *CatalogRepository) UpdatePack(ctx context.Context, pack *models.CreditPack) (*models.CreditPack, error) {
	if _, err := r.GetPack(ctx, pack.Name); err != nil {
		return nil, err
	}
	const query = `
UPDATE credit_packs
SET title = ?, credits = ?, price_cents = ?, currency = ?, is_active = ?, updated_at = NOW()
WHERE name = ?`
	if _, err := r.db.ExecContext(ctx, query, pack.Title, pack.Credits, pack.PriceCents, pack.Currency, pack.IsActive, pack.Name); err != nil {
		return nil, fmt.Errorf("update pack: %w", err)
	}
	return r.GetPack(ctx, pack.Name)
}

func (r *CatalogRepository) DeletePack(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM credit_packs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete pack: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedPack inserts the pack unless one with the same name already exists.
func (r *CatalogRepository) SeedPack(ctx context.Context, pack *models.CreditPack) error {
	const query = `
INSERT IGNORE INTO credit_packs (name, title, credits, price_cents, currency, is_active)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, pack.Name, pack.Title, pack.Credits, pack.PriceCents, pack.Currency, pack.IsActive); err != nil {
		return fmt.Errorf("seed pack: %w", err)
	}
	return nil
}

func (r *CatalogRepository) ListPrices(ctx context.Context) ([]models.BookPrice, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT product_type, price_cents, currency FROM book_prices ORDER BY price_cents ASC`)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()

	var prices []models.BookPrice
	for rows.Next() {
		var price models.BookPrice
		var productType string
		if err := rows.Scan(&productType, &price.PriceCents, &price.Currency); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		price.ProductType = models.ProductType(productType)
		prices = append(prices, price)
	}
	return prices, rows.Err()
}

func (r *CatalogRepository) GetPrice(ctx context.Context, productType models.ProductType) (*models.BookPrice, error) {
	row := r.db.QueryRowContext(ctx, `SELECT product_type, price_cents, currency FROM book_prices WHERE product_type = ?`, productType)
	var price models.BookPrice
	var pt string
	if err := row.Scan(&pt, &price.PriceCents, &price.Currency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get price: %w", err)
	}
	price.ProductType = models.ProductType(pt)
	return &price, nil
}

func (r *CatalogRepository) SeedPrice(ctx context.Context, price *models.BookPrice) error {
	const query = `INSERT IGNORE INTO book_prices (product_type, price_cents, currency) VALUES (?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, price.ProductType, price.PriceCents, price.Currency); err != nil {
		return fmt.Errorf("seed price: %w", err)
	}
	return nil
}

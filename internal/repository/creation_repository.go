package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/database"
	"github.com/digkill/storybook/internal/models"
)

type CreationRepository struct {
	db *sql.DB
}

func NewCreationRepository(db *sql.DB) *CreationRepository {
	return &CreationRepository{db: db}
}

func (r *CreationRepository) ListActive(ctx context.Context, userID uuid.UUID) ([]models.Creation, error) {
	const query = `
SELECT id, user_id, title, COALESCE(artist_name, ''), artist_age, COALESCE(original_image_key, ''),
       COALESCE(video_key, ''), page_image_keys, created_at
FROM creations
WHERE user_id = ? AND is_deleted = 0
ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list creations: %w", err)
	}
	defer rows.Close()

	var creations []models.Creation
	for rows.Next() {
		var c models.Creation
		var pages []byte
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.ArtistName, &c.ArtistAge, &c.OriginalImageKey, &c.VideoKey, &pages, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan creation: %w", err)
		}
		if len(pages) > 0 {
			if err := json.Unmarshal(pages, &c.PageImageKeys); err != nil {
				return nil, fmt.Errorf("decode page keys for %s: %w", c.ID, err)
			}
		}
		creations = append(creations, c)
	}
	return creations, rows.Err()
}

func (r *CreationRepository) SaveWithCredit(ctx context.Context, creation *models.Creation, freeLimit int) (*models.CreditTransaction, error) {
	pages, err := json.Marshal(creation.PageImageKeys)
	if err != nil {
		return nil, fmt.Errorf("encode page keys: %w", err)
	}

	const insert = `
INSERT INTO creations (id, user_id, title, artist_name, artist_age, original_image_key, video_key, page_image_keys, created_at)
VALUES (?, ?, ?, NULLIF(?, ''), ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`

	var entry *models.CreditTransaction
	err = database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		entry, err = consumeCredit(ctx, tx, creation.UserID, creation.ID, freeLimit, creation.CreatedAt)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert,
			creation.ID, creation.UserID, creation.Title, creation.ArtistName, creation.ArtistAge,
			creation.OriginalImageKey, creation.VideoKey, pages, creation.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert creation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *CreationRepository) SoftDelete(ctx context.Context, userID, creationID uuid.UUID, releaseFree bool) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := execAffected(ctx, tx, `UPDATE creations SET is_deleted = 1 WHERE id = ? AND user_id = ? AND is_deleted = 0`, creationID, userID)
		if err != nil {
			return fmt.Errorf("soft delete creation: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		if !releaseFree {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `UPDATE profiles SET free_saves_used = free_saves_used - 1, updated_at = NOW() WHERE user_id = ? AND free_saves_used > 0`, userID); err != nil {
			return fmt.Errorf("release free slot: %w", err)
		}
		return nil
	})
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/entitlement"
	"github.com/digkill/storybook/internal/metrics"
	"github.com/digkill/storybook/internal/models"
	"github.com/digkill/storybook/internal/repository"
	"github.com/digkill/storybook/internal/storage"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

// URLSigner issues short-lived download URLs for stored assets.
type URLSigner interface {
	SignURL(ctx context.Context, kind storage.Kind, key string) (string, error)
}

// CreationDetail is an unlocked creation with freshly signed asset URLs.
type CreationDetail struct {
	models.Creation
	OriginalImageURL string   `json:"original_image_url,omitempty"`
	VideoURL         string   `json:"video_url,omitempty"`
	PageImageURLs    []string `json:"page_image_urls"`
}

type SaveCreationInput struct {
	Title            string
	ArtistName       string
	ArtistAge        int
	OriginalImageKey string
	VideoKey         string
	PageImageKeys    []string
}

type SaveCreationResult struct {
	Creation    models.Creation           `json:"creation"`
	Transaction *models.CreditTransaction `json:"transaction"`
}

type CreationService struct {
	credits   *CreditService
	creations repository.CreationStore
	signer    URLSigner
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewCreationService(credits *CreditService, creations repository.CreationStore, signer URLSigner, m *metrics.Metrics) *CreationService {
	return &CreationService{
		credits:   credits,
		creations: creations,
		signer:    signer,
		metrics:   m,
		now:       time.Now,
	}
}

// ListAccessible returns every non-deleted creation, oldest first, with the
// lock flag computed from the user's current quota.
func (s *CreationService) ListAccessible(ctx context.Context, userID uuid.UUID) ([]models.Creation, error) {
	profile, err := s.credits.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	creations, err := s.creations.ListActive(ctx, userID)
	if err != nil {
		return nil, storeError(err, "list creations")
	}
	quota := entitlement.Quota(s.credits.FreeLimit(), profile.PaidSavesUsed)
	return entitlement.ApplyLocks(creations, quota, profile.IsPremium(s.now())), nil
}

func (s *CreationService) accessible(ctx context.Context, userID, creationID uuid.UUID) (*models.Creation, error) {
	creations, err := s.ListAccessible(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range creations {
		if creations[i].ID == creationID && !creations[i].IsLocked {
			return &creations[i], nil
		}
	}
	// locked and missing look the same to the caller
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "creation not found")
}

// EnsureAccessible fails with NOT_FOUND unless the creation is the user's and unlocked.
func (s *CreationService) EnsureAccessible(ctx context.Context, userID, creationID uuid.UUID) error {
	_, err := s.accessible(ctx, userID, creationID)
	return err
}

func (s *CreationService) Get(ctx context.Context, userID, creationID uuid.UUID) (*CreationDetail, error) {
	creation, err := s.accessible(ctx, userID, creationID)
	if err != nil {
		return nil, err
	}

	detail := &CreationDetail{Creation: *creation, PageImageURLs: make([]string, 0, len(creation.PageImageKeys))}
	if detail.OriginalImageURL, err = s.sign(ctx, storage.KindOriginalImage, creation.OriginalImageKey); err != nil {
		return nil, err
	}
	if detail.VideoURL, err = s.sign(ctx, storage.KindVideo, creation.VideoKey); err != nil {
		return nil, err
	}
	for _, key := range creation.PageImageKeys {
		u, err := s.sign(ctx, storage.KindPageImage, key)
		if err != nil {
			return nil, err
		}
		detail.PageImageURLs = append(detail.PageImageURLs, u)
	}
	return detail, nil
}

func (s *CreationService) sign(ctx context.Context, kind storage.Kind, key string) (string, error) {
	if key == "" || s.signer == nil {
		return "", nil
	}
	u, err := s.signer.SignURL(ctx, kind, key)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign asset url")
	}
	return u, nil
}

// Save stores the creation and spends one credit in the same transaction;
// a denied save leaves nothing behind.
func (s *CreationService) Save(ctx context.Context, userID uuid.UUID, input SaveCreationInput) (*SaveCreationResult, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required").
			WithDetails(map[string]string{"title": "required"})
	}
	if err := s.credits.EnsureProfile(ctx, userID, ""); err != nil {
		return nil, err
	}
	creation := models.Creation{
		ID:               uuid.New(),
		UserID:           userID,
		Title:            title,
		ArtistName:       strings.TrimSpace(input.ArtistName),
		ArtistAge:        input.ArtistAge,
		OriginalImageKey: input.OriginalImageKey,
		VideoKey:         input.VideoKey,
		PageImageKeys:    input.PageImageKeys,
		CreatedAt:        s.now().UTC(),
	}
	entry, err := s.creations.SaveWithCredit(ctx, &creation, s.credits.FreeLimit())
	if err != nil {
		return nil, s.credits.creditError(err)
	}
	s.metrics.CreditConsumed(string(entry.Source))
	return &SaveCreationResult{Creation: creation, Transaction: entry}, nil
}

// Delete soft-deletes the creation. Non-premium users get a free slot back,
// and lock state is recomputed on the next read.
func (s *CreationService) Delete(ctx context.Context, userID, creationID uuid.UUID) error {
	profile, err := s.credits.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.creations.SoftDelete(ctx, userID, creationID, !profile.IsPremium(s.now())); err != nil {
		return storeError(err, "creation not found")
	}
	return nil
}

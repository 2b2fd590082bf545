// Package entitlement decides which saved creations a user may open.
package entitlement

import (
	"sort"

	"github.com/google/uuid"

	"github.com/digkill/storybook/internal/models"
)

// Quota is the number of creations a non-premium user may keep unlocked:
// the free allowance plus one permanent slot per paid credit spent.
func Quota(freeLimit, paidSavesUsed int) int {
	if freeLimit < 0 {
		freeLimit = 0
	}
	if paidSavesUsed < 0 {
		paidSavesUsed = 0
	}
	return freeLimit + paidSavesUsed
}

// ApplyLocks returns a copy of creations ordered oldest first with IsLocked set.
// The first min(quota, len) are unlocked; premium unlocks everything. Deleted
// creations are dropped.
func ApplyLocks(creations []models.Creation, quota int, premium bool) []models.Creation {
	out := make([]models.Creation, 0, len(creations))
	for _, c := range creations {
		if !c.IsDeleted {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	for i := range out {
		out[i].IsLocked = !premium && i >= quota
	}
	return out
}

// IsAccessible reports whether id is among the unlocked creations.
func IsAccessible(locked []models.Creation, id uuid.UUID) bool {
	for _, c := range locked {
		if c.ID == id {
			return !c.IsLocked
		}
	}
	return false
}

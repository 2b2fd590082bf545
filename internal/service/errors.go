package service

import (
	"context"
	"errors"

	"github.com/digkill/storybook/internal/repository"
	pkgerrors "github.com/digkill/storybook/pkg/errors"
)

// storeError translates repository sentinels into typed service errors.
// Cancellation passes through untouched so callers can drop it quietly.
func storeError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
	case errors.Is(err, repository.ErrDuplicate):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, message)
	case errors.Is(err, repository.ErrNoCredits):
		return pkgerrors.Wrap(pkgerrors.CodeNoCredits, err, message)
	case errors.Is(err, repository.ErrOrderTerminal):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, message)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
	}
}

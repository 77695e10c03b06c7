package repository

import (
	"context"
)

// HistoryKey is the single key the serialized interaction log is stored under
const HistoryKey = "chatHistory"

// Repository defines the interface for interaction log persistence. The log is
// stored as one opaque blob that is overwritten on every change.
type Repository interface {
	// GetHistory returns the stored log. It returns model.ErrHistoryNotFound if nothing is stored.
	GetHistory(ctx context.Context) ([]byte, error)

	// PutHistory replaces the stored log
	PutHistory(ctx context.Context, data []byte) error

	// DeleteHistory removes the stored log. Deleting a missing log is not an error.
	DeleteHistory(ctx context.Context) error
}

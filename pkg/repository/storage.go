package repository

import (
	"context"
	"errors"

	"github.com/m-mizutani/deepspace/pkg/adapter"
	"github.com/m-mizutani/deepspace/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// storageRepo keeps the log as a JSON object in blob storage
type storageRepo struct {
	storage adapter.Storage
	key     string
}

// NewStorage creates a Repository saving the log to storage under key. An
// empty key means HistoryKey + ".json".
func NewStorage(storage adapter.Storage, key string) Repository {
	if key == "" {
		key = HistoryKey + ".json"
	}
	return &storageRepo{
		storage: storage,
		key:     key,
	}
}

func (r *storageRepo) GetHistory(ctx context.Context) ([]byte, error) {
	data, err := adapter.GetBytes(ctx, r.storage, r.key)
	if errors.Is(err, model.ErrObjectNotFound) {
		return nil, goerr.Wrap(model.ErrHistoryNotFound, "no history in storage", goerr.V("key", r.key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get history from storage", goerr.V("key", r.key))
	}
	return data, nil
}

func (r *storageRepo) PutHistory(ctx context.Context, data []byte) error {
	if err := adapter.PutBytes(ctx, r.storage, r.key, data); err != nil {
		return goerr.Wrap(err, "failed to put history to storage", goerr.V("key", r.key))
	}
	return nil
}

func (r *storageRepo) DeleteHistory(ctx context.Context) error {
	if err := r.storage.Delete(ctx, r.key); err != nil {
		return goerr.Wrap(err, "failed to delete history from storage", goerr.V("key", r.key))
	}
	return nil
}

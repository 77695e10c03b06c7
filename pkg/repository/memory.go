package repository

import (
	"context"
	"sync"

	"github.com/m-mizutani/deepspace/pkg/model"
)

// Memory is an in-process Repository. Nothing survives the process.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) GetHistory(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return nil, model.ErrHistoryNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) PutHistory(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = append([]byte{}, data...)
	return nil
}

func (m *Memory) DeleteHistory(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
	return nil
}

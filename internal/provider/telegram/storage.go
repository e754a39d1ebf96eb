// internal/provider/telegram/storage.go
package telegram

import (
	"context"
	"sync"

	"github.com/gotd/td/session"
)

// memoryStorage keeps the MTProto session in memory. The bytes are exported
// as the session token and persisted by the credential store.
type memoryStorage struct {
	mu   sync.Mutex
	data []byte
}

var _ session.Storage = (*memoryStorage)(nil)

func (m *memoryStorage) LoadSession(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memoryStorage) StoreSession(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memoryStorage) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

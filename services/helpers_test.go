package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"battle-of-tunes/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *ParticipantStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Participant{}))
	return NewParticipantStore(db)
}

// fakeMessenger records outgoing messages and serves canned membership
// statuses. Users without an explicit status count as members.
type fakeMessenger struct {
	mu        sync.Mutex
	statuses  map[int64]string
	memberErr map[int64]error
	messages  []string
	sendErr   error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		statuses:  make(map[int64]string),
		memberErr: make(map[int64]error),
	}
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeMessenger) GetChatMember(_ context.Context, _ int64, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.memberErr[userID]; ok {
		return "", err
	}
	if status, ok := f.statuses[userID]; ok {
		return status, nil
	}
	return MemberStatusMember, nil
}

func (f *fakeMessenger) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}

// memoryAudioStore is an in-process AudioStore for tests.
type memoryAudioStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryAudioStore() *memoryAudioStore {
	return &memoryAudioStore{objects: make(map[string][]byte)}
}

func (m *memoryAudioStore) UploadAudio(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryAudioStore) FetchAudio(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return data, nil
}

func (m *memoryAudioStore) DeleteAudio(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryAudioStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func testWallet(n byte) string {
	return fmt.Sprintf("0x%040x", n)
}

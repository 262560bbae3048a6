package services

import (
	"sync"
	"time"
)

// BattleRegistry is the in-process record of which chats have a battle in
// flight. It is the guard the matchmaker consults before promoting a chat,
// independent of any store-level race check: a chat in the registry is
// mid-battle and must not be re-promoted until its monitor removes it.
type BattleRegistry struct {
	mu      sync.Mutex
	battles map[int64]time.Time
}

func NewBattleRegistry() *BattleRegistry {
	return &BattleRegistry{battles: make(map[int64]time.Time)}
}

// TryAdd claims the chat for a new battle. Returns false when the chat is
// already mid-battle.
func (r *BattleRegistry) TryAdd(chatID int64, startedAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.battles[chatID]; exists {
		return false
	}
	r.battles[chatID] = startedAt
	return true
}

// SetStart records the promotion timestamp on an already claimed chat.
func (r *BattleRegistry) SetStart(chatID int64, startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.battles[chatID]; exists {
		r.battles[chatID] = startedAt
	}
}

// Remove frees the chat for the next matchmaking sweep.
func (r *BattleRegistry) Remove(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.battles, chatID)
}

// Active reports whether the chat currently has a battle in flight.
func (r *BattleRegistry) Active(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.battles[chatID]
	return exists
}

// Snapshot copies the current battle set for status reporting.
func (r *BattleRegistry) Snapshot() map[int64]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]time.Time, len(r.battles))
	for chatID, startedAt := range r.battles {
		out[chatID] = startedAt
	}
	return out
}

package services

import (
	"context"
	"log"
	"time"
)

// AudioStore is the blob storage holding submitted tracks. Participant rows
// only carry object keys; the bytes live here.
type AudioStore interface {
	UploadAudio(ctx context.Context, key string, data []byte, contentType string) error
	FetchAudio(ctx context.Context, key string) ([]byte, error)
	DeleteAudio(ctx context.Context, key string) error
}

// MonitorConfig holds the per-battle loop knobs.
type MonitorConfig struct {
	// PollInterval is how often the monitor re-checks submission completeness.
	PollInterval time.Duration
	// MaxBattleDuration bounds a stalled battle; once exceeded the battle is
	// force-reset and the chat notified. 0 disables the deadline.
	MaxBattleDuration time.Duration
}

// BattleMonitor owns the lifecycle of one active battle: it polls the store
// until every participant has submitted, dispatches the collected tracks to
// the evaluation service exactly once, publishes the outcome and always ends
// in a reset: success, evaluator failure and timeout all free the chat for
// the next matchmaking sweep.
type BattleMonitor struct {
	Store     *ParticipantStore
	Registry  *BattleRegistry
	Audio     AudioStore
	Evaluator *EvaluatorClient
	Publisher *ResultPublisher
	Messenger Messenger
	Config    MonitorConfig
}

// Watch runs until the battle identified by (chatID, startedAt) reaches a
// terminal state. One goroutine per active battle; no battle blocks another.
func (m *BattleMonitor) Watch(ctx context.Context, chatID int64, startedAt time.Time) {
	defer m.Registry.Remove(chatID)

	var deadline time.Time
	if m.Config.MaxBattleDuration > 0 {
		// startedAt is stored truncated to the second, so the deadline can
		// land up to a second early.
		deadline = startedAt.Add(m.Config.MaxBattleDuration)
	}

	ticker := time.NewTicker(m.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("⏹️ Battle monitor for chat %d stopped", chatID)
			return
		case <-ticker.C:
			if !deadline.IsZero() && time.Now().After(deadline) {
				log.Printf("⏰ Battle in chat %d exceeded %s, forcing reset", chatID, m.Config.MaxBattleDuration)
				m.notify(ctx, chatID, BattleTimedOutNotice)
				m.teardown(ctx, chatID, startedAt)
				return
			}

			ready, err := m.Store.AllSubmitted(chatID, startedAt)
			if err != nil {
				log.Printf("❌ Submission check for chat %d failed: %v", chatID, err)
				continue
			}
			if !ready {
				continue
			}

			m.notify(ctx, chatID, SubmissionsReceivedNotice)
			m.evaluate(ctx, chatID, startedAt)
			return
		}
	}
}

// evaluate runs the one-shot dispatch and, whatever happens, tears the
// battle down afterwards.
func (m *BattleMonitor) evaluate(ctx context.Context, chatID int64, startedAt time.Time) {
	defer m.teardown(ctx, chatID, startedAt)

	entries, err := m.Store.CollectSubmissions(chatID, startedAt)
	if err != nil {
		log.Printf("❌ Failed to collect submissions for chat %d: %v", chatID, err)
		m.notify(ctx, chatID, EvaluationFailedNotice)
		return
	}

	submissions := make([]TrackSubmission, 0, len(entries))
	for _, entry := range entries {
		audio, err := m.Audio.FetchAudio(ctx, entry.AudioKey)
		if err != nil {
			log.Printf("❌ Failed to fetch track %s for chat %d: %v", entry.AudioKey, chatID, err)
			m.notify(ctx, chatID, EvaluationFailedNotice)
			return
		}
		submissions = append(submissions, TrackSubmission{
			WalletAddress: entry.WalletAddress,
			FileName:      entry.AudioFilename,
			Audio:         audio,
		})
	}

	log.Printf("[BATTLE] Dispatching %d track(s) from chat %d for evaluation", len(submissions), chatID)
	result, err := m.Evaluator.Evaluate(ctx, submissions)
	if err != nil {
		log.Printf("❌ Evaluation for chat %d failed: %v", chatID, err)
		m.notify(ctx, chatID, EvaluationFailedNotice)
		return
	}

	roster, err := m.Store.BattleParticipants(chatID, startedAt)
	if err != nil {
		log.Printf("⚠️ Failed to load roster for chat %d, rankings will show wallets only: %v", chatID, err)
	}
	if err := m.Publisher.Publish(ctx, chatID, result, roster); err != nil {
		log.Printf("❌ Failed to publish results for chat %d: %v", chatID, err)
	}
}

// teardown resets the battle rows and deletes the orphaned audio blobs. It
// must run on every exit path, and a transient store error must not strand
// the rows Active, so the reset is retried on the poll cadence until it lands
// or the process is shutting down.
func (m *BattleMonitor) teardown(ctx context.Context, chatID int64, startedAt time.Time) {
	var keys []string
	for attempt := 1; ; attempt++ {
		var err error
		keys, err = m.Store.ResetBattle(chatID, startedAt)
		if err == nil {
			break
		}
		log.Printf("❌ Failed to reset battle in chat %d (attempt %d): %v", chatID, attempt, err)
		select {
		case <-ctx.Done():
			log.Printf("⏹️ Reset of chat %d abandoned, shutdown in progress", chatID)
			return
		case <-time.After(m.Config.PollInterval):
		}
	}
	for _, key := range keys {
		if err := m.Audio.DeleteAudio(ctx, key); err != nil {
			log.Printf("⚠️ Failed to delete track %s: %v", key, err)
		}
	}
	log.Printf("✅ Battle in chat %d reset, participants back in the pool", chatID)
}

func (m *BattleMonitor) notify(ctx context.Context, chatID int64, text string) {
	if err := m.Messenger.SendMessage(ctx, chatID, text); err != nil {
		log.Printf("⚠️ Failed to notify chat %d: %v", chatID, err)
	}
}

package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"battle-of-tunes/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotInBattle is returned when a submission arrives for a participant who
// is not part of an active battle.
var ErrNotInBattle = errors.New("participant is not in an active battle")

// ParticipantStore owns every persisted participant field. All state
// transitions (promotion, submission, reset) go through it; no caller caches
// rows across calls.
//
// A single mutex serializes the read-modify-write operations. Battle counts
// are small, so one coarse lock is enough; it is never held across a network
// call.
type ParticipantStore struct {
	DB *gorm.DB
	mu sync.Mutex
}

func NewParticipantStore(db *gorm.DB) *ParticipantStore {
	return &ParticipantStore{DB: db}
}

// SubmissionEntry is one collected (wallet, track) pair for dispatch.
type SubmissionEntry struct {
	WalletAddress string
	AudioKey      string
	AudioFilename string
}

// Register upserts a participant as idle and verified, clearing any stale
// submission from a previous round. Idempotent per (userID, chatID).
func (s *ParticipantStore) Register(chatID, userID int64, username, walletAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	participant := models.Participant{
		UserID:        userID,
		ChatID:        chatID,
		Username:      username,
		WalletAddress: walletAddress,
		Verified:      true,
	}

	err := s.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"username",
			"wallet_address",
			"verified",
			"audio_key",
			"audio_filename",
			"battle_active",
			"battle_started_at",
			"updated_at",
		}),
	}).Create(&participant).Error
	if err != nil {
		return fmt.Errorf("failed to register participant %d in chat %d: %w", userID, chatID, err)
	}
	return nil
}

// ListIdleVerified returns participants eligible for matchmaking. chatID 0
// means all chats (the matchmaker's single global sweep).
func (s *ParticipantStore) ListIdleVerified(chatID int64) ([]models.Participant, error) {
	var participants []models.Participant
	query := s.DB.Where("battle_active = ? AND verified = ?", false, true)
	if chatID != 0 {
		query = query.Where("chat_id = ?", chatID)
	}
	if err := query.Order("chat_id, created_at").Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("failed to list idle participants: %w", err)
	}
	return participants, nil
}

// ListByChat returns every participant of a chat, battle roster first.
func (s *ParticipantStore) ListByChat(chatID int64) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.DB.Where("chat_id = ?", chatID).
		Order("battle_active DESC, username").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list participants for chat %d: %w", chatID, err)
	}
	return participants, nil
}

// PromoteToBattle atomically moves exactly the given users of a chat into an
// active battle. If any target row is no longer idle and verified (a
// concurrent promotion won the race, or a stake lapsed mid-sweep) nothing is
// changed and ok is false; the caller retries on a later sweep, never
// partially.
func (s *ParticipantStore) PromoteToBattle(chatID int64, userIDs []int64) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(userIDs) == 0 {
		return time.Time{}, false, nil
	}

	startedAt := time.Now().UTC().Truncate(time.Second)
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Participant{}).
			Where("chat_id = ? AND user_id IN ? AND battle_active = ? AND verified = ?",
				chatID, userIDs, false, true).
			Updates(map[string]interface{}{
				"battle_active":     true,
				"battle_started_at": startedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(userIDs)) {
			return errPromotionRaceLost
		}
		return nil
	})
	if errors.Is(err, errPromotionRaceLost) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to promote battle in chat %d: %w", chatID, err)
	}
	return startedAt, true, nil
}

// errPromotionRaceLost only travels from the transaction closure back to
// PromoteToBattle; losing the race is an expected outcome, not an error.
var errPromotionRaceLost = errors.New("promotion race lost")

// RecordSubmission attaches a track to a participant, but only while that
// participant is in an active battle. Idle participants get ErrNotInBattle.
func (s *ParticipantStore) RecordSubmission(chatID, userID int64, audioKey, audioFilename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.DB.Model(&models.Participant{}).
		Where("chat_id = ? AND user_id = ? AND battle_active = ?", chatID, userID, true).
		Updates(map[string]interface{}{
			"audio_key":      audioKey,
			"audio_filename": audioFilename,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record submission for user %d in chat %d: %w", userID, chatID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotInBattle
	}
	return nil
}

// AllSubmitted reports whether every participant of the battle identified by
// (chatID, startedAt) has a recorded track. Monotonic within a battle: once
// true it stays true until the battle is reset.
func (s *ParticipantStore) AllSubmitted(chatID int64, startedAt time.Time) (bool, error) {
	var total, missing int64
	err := s.DB.Model(&models.Participant{}).
		Where("chat_id = ? AND battle_active = ? AND battle_started_at = ?", chatID, true, startedAt).
		Count(&total).Error
	if err != nil {
		return false, fmt.Errorf("failed to count battle participants: %w", err)
	}
	if total == 0 {
		return false, nil
	}
	err = s.DB.Model(&models.Participant{}).
		Where("chat_id = ? AND battle_active = ? AND battle_started_at = ? AND audio_key IS NULL",
			chatID, true, startedAt).
		Count(&missing).Error
	if err != nil {
		return false, fmt.Errorf("failed to count missing submissions: %w", err)
	}
	return missing == 0, nil
}

// CollectSubmissions snapshots the (wallet, track) pairs of one battle in a
// stable order. The caller owns the battle lifecycle, so no submission can be
// added or removed while a dispatch built from this snapshot is in flight.
func (s *ParticipantStore) CollectSubmissions(chatID int64, startedAt time.Time) ([]SubmissionEntry, error) {
	var participants []models.Participant
	err := s.DB.Where("chat_id = ? AND battle_active = ? AND battle_started_at = ? AND audio_key IS NOT NULL",
		chatID, true, startedAt).
		Order("user_id").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to collect submissions for chat %d: %w", chatID, err)
	}

	entries := make([]SubmissionEntry, 0, len(participants))
	for _, p := range participants {
		entry := SubmissionEntry{WalletAddress: p.WalletAddress, AudioKey: *p.AudioKey}
		if p.AudioFilename != nil {
			entry.AudioFilename = *p.AudioFilename
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// BattleParticipants returns the roster of one battle, used by the result
// publisher to resolve wallets back to usernames.
func (s *ParticipantStore) BattleParticipants(chatID int64, startedAt time.Time) ([]models.Participant, error) {
	var participants []models.Participant
	err := s.DB.Where("chat_id = ? AND battle_active = ? AND battle_started_at = ?",
		chatID, true, startedAt).
		Order("user_id").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load battle roster for chat %d: %w", chatID, err)
	}
	return participants, nil
}

// ResetBattle returns every participant of the battle to the idle pool,
// clearing submissions and the battle timestamp. It returns the audio keys
// that were cleared so the caller can delete the orphaned blobs.
func (s *ParticipantStore) ResetBattle(chatID int64, startedAt time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orphanedKeys []string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var participants []models.Participant
		if err := tx.Where("chat_id = ? AND battle_active = ? AND battle_started_at = ?",
			chatID, true, startedAt).
			Find(&participants).Error; err != nil {
			return err
		}
		for _, p := range participants {
			if p.HasSubmitted() {
				orphanedKeys = append(orphanedKeys, *p.AudioKey)
			}
		}

		return tx.Model(&models.Participant{}).
			Where("chat_id = ? AND battle_active = ? AND battle_started_at = ?",
				chatID, true, startedAt).
			Updates(map[string]interface{}{
				"battle_active":     false,
				"battle_started_at": nil,
				"audio_key":         nil,
				"audio_filename":    nil,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reset battle in chat %d: %w", chatID, err)
	}
	return orphanedKeys, nil
}

// MarkUnverified flips verified off for a wallet, but only while its owner is
// idle; an active battle keeps its roster until reset.
func (s *ParticipantStore) MarkUnverified(walletAddress string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.DB.Model(&models.Participant{}).
		Where("wallet_address = ? AND battle_active = ?", walletAddress, false).
		Update("verified", false)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to unverify wallet %s: %w", walletAddress, res.Error)
	}
	return res.RowsAffected, nil
}

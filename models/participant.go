package models

import (
	"time"
)

// Participant is one registered contestant inside one Telegram group.
// A user may be registered in several groups at once; the pair
// (user_id, chat_id) is the identity.
type Participant struct {
	UserID        int64  `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	ChatID        int64  `gorm:"primaryKey;autoIncrement:false;index:idx_participants_battle" json:"chat_id"`
	Username      string `gorm:"type:varchar(255)" json:"username"`
	WalletAddress string `gorm:"type:varchar(42);index" json:"wallet_address"`

	// AudioKey points at the submitted track in blob storage. It is set only
	// while the participant is in an active battle and cleared on reset.
	AudioKey      *string `gorm:"type:varchar(255)" json:"audio_key,omitempty"`
	AudioFilename *string `gorm:"type:varchar(255)" json:"audio_filename,omitempty"`

	Verified        bool       `gorm:"default:true" json:"verified"`
	BattleActive    bool       `gorm:"default:false;index:idx_participants_battle" json:"battle_active"`
	BattleStartedAt *time.Time `json:"battle_started_at,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// HasSubmitted reports whether a track is recorded for this participant.
func (p *Participant) HasSubmitted() bool {
	return p.AudioKey != nil && *p.AudioKey != ""
}

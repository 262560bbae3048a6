package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"battle-of-tunes/models"
)

// ResultPublisher turns an evaluation result into the chat-facing ranking
// message and delivers it. Formatting problems never block the battle reset;
// the worst case is a ranking entry attributed to "Unknown".
type ResultPublisher struct {
	Messenger Messenger
}

func NewResultPublisher(messenger Messenger) *ResultPublisher {
	return &ResultPublisher{Messenger: messenger}
}

// Publish formats and sends the battle outcome to the chat.
func (p *ResultPublisher) Publish(ctx context.Context, chatID int64, result *models.EvaluationResult, roster []models.Participant) error {
	message := FormatRankings(result, roster)
	if err := p.Messenger.SendMessage(ctx, chatID, message); err != nil {
		return fmt.Errorf("failed to send battle results to chat %d: %w", chatID, err)
	}
	log.Printf("✅ Battle results sent to chat %d (winner %s)", chatID, result.WinnerWallet)
	return nil
}

// FormatRankings builds the human-readable ranking: position, username
// resolved by wallet join against the battle roster, track, truncated wallet,
// score, selected features, truncated transaction hash and score gaps.
func FormatRankings(result *models.EvaluationResult, roster []models.Participant) string {
	var b strings.Builder
	b.WriteString("🎵 Battle Results 🎵\n\n")
	b.WriteString(fmt.Sprintf("🕒 Battle completed at: %s\n\n", formatTimestamp(result.Timestamp)))

	usernames := make(map[string]string, len(roster))
	for _, participant := range roster {
		usernames[participant.WalletAddress] = participant.Username
	}

	for i, ranking := range result.AllRankings {
		username, ok := usernames[ranking.WalletAddress]
		if !ok || username == "" {
			username = "Unknown"
		}

		b.WriteString(fmt.Sprintf("#%d @%s\n", i+1, username))
		b.WriteString(fmt.Sprintf("🎵 Track: %s\n", ranking.FileName))
		b.WriteString(fmt.Sprintf("💰 Wallet: %s\n", truncateHex(ranking.WalletAddress)))
		b.WriteString(fmt.Sprintf("📊 Score: %.2f\n", ranking.QualityScore))
		b.WriteString("🎼 Features:\n")
		b.WriteString(fmt.Sprintf("  • Energy: %.3f\n", ranking.Features.Energy))
		b.WriteString(fmt.Sprintf("  • Danceability: %.3f\n", ranking.Features.Danceability))
		b.WriteString(fmt.Sprintf("  • Instrumentalness: %.3f\n", ranking.Features.Instrumentalness))
		b.WriteString(fmt.Sprintf("  • Loudness: %.2f dB\n\n", ranking.Features.Loudness))
	}

	b.WriteString(fmt.Sprintf("🔗 Transaction Hash: %s\n\n", truncateHex(result.TransactionHash)))

	if len(result.ScoreDifferences) > 0 {
		b.WriteString("📊 Score Differences:\n")
		for i, diff := range result.ScoreDifferences {
			b.WriteString(fmt.Sprintf("#%d vs #%d: %.3f points\n", i+2, i+1, diff))
		}
	}

	return b.String()
}

// BattleAnnouncement is the message sent to a chat when its battle begins.
func BattleAnnouncement(usernames []string, pollInterval time.Duration) string {
	mentions := make([]string, 0, len(usernames))
	for _, username := range usernames {
		mentions = append(mentions, "@"+username)
	}

	return "🎵 Battle of Tunes has begun! 🎵\n\n" +
		fmt.Sprintf("Today's Contestants:\n%s\n\n", strings.Join(mentions, ", ")) +
		"🎼 How to Generate Your Track:\n" +
		"1. Head over to the music generation bot\n" +
		"2. Generate your track using its interface\n" +
		"3. Your generated track will be automatically included in the battle\n\n" +
		"⏰ Important Notes:\n" +
		fmt.Sprintf("• I'll check every %d seconds for your generated tracks\n", int(pollInterval.Seconds())) +
		"• The battle will be evaluated once all tracks are received\n\n" +
		"May the best tune win! 🎧"
}

// SubmissionsReceivedNotice is sent when the last track of a battle arrives.
const SubmissionsReceivedNotice = "🎵 All submissions received! 🎼\n\n" +
	"Thank you for your entries! Your tracks will now be evaluated based on:\n" +
	"• Musical quality\n" +
	"• Energy levels\n" +
	"• Danceability\n" +
	"• Overall composition\n\n" +
	"Please stand by for the results... 🎧"

// EvaluationFailedNotice is sent when the evaluation service fails; the
// battle is reset so the same participants can be re-matched.
const EvaluationFailedNotice = "⚠️ An error occurred during battle evaluation. " +
	"Please try again later."

// BattleTimedOutNotice is sent when a battle exceeds its maximum duration
// before every track arrived.
const BattleTimedOutNotice = "⏰ The battle timed out before all tracks were submitted. " +
	"Everyone is back in the pool for the next match."

func formatTimestamp(raw string) string {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.Format("2006-01-02 15:04:05")
		}
	}
	return raw
}

func truncateHex(value string) string {
	if len(value) <= 12 {
		return value
	}
	return value[:6] + "..." + value[len(value)-4:]
}

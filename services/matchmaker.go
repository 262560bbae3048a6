package services

import (
	"context"
	"log"
	"time"

	"battle-of-tunes/models"

	"github.com/go-co-op/gocron/v2"
)

// MatchmakerConfig holds the sweep knobs. Quorum is configuration, not a
// constant baked into the sweep.
type MatchmakerConfig struct {
	Quorum        int
	SweepInterval time.Duration
}

// Matchmaker periodically scans the idle pool and promotes quorum-sized
// groups of verified participants into battles, one battle per chat at a
// time. Chats already tracked by the registry are skipped regardless of what
// the store says.
type Matchmaker struct {
	Store     *ParticipantStore
	Registry  *BattleRegistry
	Messenger Messenger
	Monitor   *BattleMonitor
	Config    MatchmakerConfig

	sched gocron.Scheduler
}

func NewMatchmaker(store *ParticipantStore, registry *BattleRegistry, messenger Messenger, monitor *BattleMonitor, cfg MatchmakerConfig) *Matchmaker {
	return &Matchmaker{
		Store:     store,
		Registry:  registry,
		Messenger: messenger,
		Monitor:   monitor,
		Config:    cfg,
	}
}

// Start schedules the periodic sweep.
func (m *Matchmaker) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(m.Config.SweepInterval),
		gocron.NewTask(func() { m.Sweep(ctx) }),
	)
	if err != nil {
		return err
	}
	sched.Start()
	m.sched = sched
	log.Printf("✅ Matchmaker sweeping every %s (quorum %d)", m.Config.SweepInterval, m.Config.Quorum)
	return nil
}

// Stop shuts the sweep scheduler down. Running battle monitors are abandoned;
// their battles resume as fresh idle participants after a restart.
func (m *Matchmaker) Stop() {
	if m.sched != nil {
		_ = m.sched.Shutdown()
	}
}

// Sweep is one matchmaking pass over all chats. Errors are logged and the
// next sweep retries; a failed pass never stops matchmaking.
func (m *Matchmaker) Sweep(ctx context.Context) {
	idle, err := m.Store.ListIdleVerified(0)
	if err != nil {
		log.Printf("❌ Matchmaker sweep failed: %v", err)
		return
	}

	byChat := make(map[int64][]models.Participant)
	for _, participant := range idle {
		byChat[participant.ChatID] = append(byChat[participant.ChatID], participant)
	}

	for chatID, candidates := range byChat {
		if m.Registry.Active(chatID) {
			continue
		}
		if len(candidates) < m.Config.Quorum {
			continue
		}
		m.tryFormBattle(ctx, chatID, candidates)
	}
}

// tryFormBattle claims the chat, re-validates membership, takes the first
// quorum-sized subset of still-valid candidates and promotes it. Later
// arrivals stay idle for the next battle.
func (m *Matchmaker) tryFormBattle(ctx context.Context, chatID int64, candidates []models.Participant) {
	// Claim the chat before the slow membership calls. Overlapping sweeps race
	// on this claim, never on the store: a promotion only ever happens under
	// the claim, so two sweeps cannot both activate rosters in one chat.
	if !m.Registry.TryAdd(chatID, time.Now().UTC()) {
		return
	}
	formed := false
	defer func() {
		if !formed {
			m.Registry.Remove(chatID)
		}
	}()

	valid := make([]models.Participant, 0, m.Config.Quorum)
	for _, candidate := range candidates {
		status, err := m.Messenger.GetChatMember(ctx, chatID, candidate.UserID)
		if err != nil {
			log.Printf("⚠️ Membership check for user %d in chat %d failed, skipping: %v", candidate.UserID, chatID, err)
			continue
		}
		if !IsActiveMember(status) {
			continue
		}
		valid = append(valid, candidate)
		if len(valid) == m.Config.Quorum {
			break
		}
	}
	if len(valid) < m.Config.Quorum {
		return
	}

	userIDs := make([]int64, 0, len(valid))
	usernames := make([]string, 0, len(valid))
	for _, participant := range valid {
		userIDs = append(userIDs, participant.UserID)
		usernames = append(usernames, participant.Username)
	}

	startedAt, ok, err := m.Store.PromoteToBattle(chatID, userIDs)
	if err != nil {
		log.Printf("❌ Promotion in chat %d failed: %v", chatID, err)
		return
	}
	if !ok {
		// A row changed under us (re-registration, lapsed stake); not an
		// error, the next sweep sees the fresh state.
		log.Printf("Promotion race lost in chat %d, retrying next sweep", chatID)
		return
	}
	m.Registry.SetStart(chatID, startedAt)
	formed = true

	log.Printf("🎵 Battle formed in chat %d with %d participant(s)", chatID, len(valid))
	if err := m.Messenger.SendMessage(ctx, chatID, BattleAnnouncement(usernames, m.Monitor.Config.PollInterval)); err != nil {
		log.Printf("⚠️ Failed to announce battle in chat %d: %v", chatID, err)
	}

	go m.Monitor.Watch(ctx, chatID, startedAt)
}

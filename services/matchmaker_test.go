package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestMatchmaker builds a matchmaker whose monitors idle (hour-long poll)
// so sweeps can be asserted in isolation.
func newTestMatchmaker(t *testing.T, store *ParticipantStore, messenger Messenger, quorum int) (*Matchmaker, *BattleRegistry) {
	t.Helper()
	registry := NewBattleRegistry()
	monitor := &BattleMonitor{
		Store:     store,
		Registry:  registry,
		Audio:     newMemoryAudioStore(),
		Evaluator: &EvaluatorClient{BaseURL: "http://evaluator.invalid", HTTPClient: http.DefaultClient},
		Publisher: NewResultPublisher(messenger),
		Messenger: messenger,
		Config:    MonitorConfig{PollInterval: time.Hour},
	}
	matchmaker := NewMatchmaker(store, registry, messenger, monitor, MatchmakerConfig{
		Quorum:        quorum,
		SweepInterval: time.Hour,
	})
	return matchmaker, registry
}

func TestSweepFormsBattleAtQuorum(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	registerThree(t, store)
	messenger := newFakeMessenger()
	matchmaker, registry := newTestMatchmaker(t, store, messenger, 3)

	matchmaker.Sweep(ctx)

	assert.True(t, registry.Active(testChat))
	idle, err := store.ListIdleVerified(testChat)
	require.NoError(t, err)
	assert.Empty(t, idle, "all three must be promoted")

	messages := messenger.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Battle of Tunes has begun")
	assert.Contains(t, messages[0], "@alice")
	assert.Contains(t, messages[0], "@bob")
	assert.Contains(t, messages[0], "@carol")
}

func TestSweepSkipsChatWithActiveBattle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	registerThree(t, store)
	messenger := newFakeMessenger()
	matchmaker, registry := newTestMatchmaker(t, store, messenger, 3)

	matchmaker.Sweep(ctx)
	require.True(t, registry.Active(testChat))

	// A fourth participant registers mid-battle; later sweeps must leave them
	// idle until the current battle resets.
	require.NoError(t, store.Register(testChat, 4, "dave", testWallet(4)))
	matchmaker.Sweep(ctx)
	matchmaker.Sweep(ctx)

	idle, err := store.ListIdleVerified(testChat)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.EqualValues(t, 4, idle[0].UserID)
	assert.Len(t, messenger.sent(), 1, "only the first sweep announces a battle")
}

func TestSweepBelowQuorumDoesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	require.NoError(t, store.Register(testChat, 1, "alice", testWallet(1)))
	require.NoError(t, store.Register(testChat, 2, "bob", testWallet(2)))
	messenger := newFakeMessenger()
	matchmaker, registry := newTestMatchmaker(t, store, messenger, 3)

	matchmaker.Sweep(ctx)

	assert.False(t, registry.Active(testChat))
	assert.Empty(t, messenger.sent())
}

func TestSweepDropsLapsedMembers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	registerThree(t, store)
	messenger := newFakeMessenger()
	messenger.statuses[2] = "left"
	matchmaker, registry := newTestMatchmaker(t, store, messenger, 3)

	matchmaker.Sweep(ctx)
	assert.False(t, registry.Active(testChat), "two valid members are below quorum")

	require.NoError(t, store.Register(testChat, 4, "dave", testWallet(4)))
	matchmaker.Sweep(ctx)
	assert.True(t, registry.Active(testChat))

	idle, err := store.ListIdleVerified(testChat)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.EqualValues(t, 2, idle[0].UserID, "the lapsed member stays idle")
}

func TestSweepSkipsCandidateOnMembershipError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	registerThree(t, store)
	messenger := newFakeMessenger()
	messenger.memberErr[1] = errors.New("api timeout")
	matchmaker, registry := newTestMatchmaker(t, store, messenger, 3)

	matchmaker.Sweep(ctx)
	assert.False(t, registry.Active(testChat))

	idle, err := store.ListIdleVerified(testChat)
	require.NoError(t, err)
	assert.Len(t, idle, 3, "a failed membership check must not mutate anything")
}

func TestSweepTakesFirstQuorumSizedSubset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	registerThree(t, store)
	require.NoError(t, store.Register(testChat, 4, "dave", testWallet(4)))
	messenger := newFakeMessenger()
	matchmaker, registry := newTestMatchmaker(t, store, messenger, 3)

	matchmaker.Sweep(ctx)

	assert.True(t, registry.Active(testChat))
	idle, err := store.ListIdleVerified(testChat)
	require.NoError(t, err)
	assert.Len(t, idle, 1, "exactly one later arrival stays idle for the next battle")

	messages := messenger.sent()
	require.Len(t, messages, 1)
	mentions := strings.Count(messages[0], "@")
	assert.Equal(t, 3, mentions, "the announcement names exactly the quorum")
}

// gatedMessenger parks membership checks until released, holding a sweep
// mid-flight so another sweep can run against the same chat.
type gatedMessenger struct {
	*fakeMessenger
	enterOnce sync.Once
	entered   chan struct{}
	release   chan struct{}
}

func (g *gatedMessenger) GetChatMember(ctx context.Context, chatID, userID int64) (string, error) {
	g.enterOnce.Do(func() { close(g.entered) })
	<-g.release
	return g.fakeMessenger.GetChatMember(ctx, chatID, userID)
}

func TestConcurrentSweepsFormOneBattlePerChat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	registerThree(t, store)
	require.NoError(t, store.Register(testChat, 4, "dave", testWallet(4)))

	messenger := &gatedMessenger{
		fakeMessenger: newFakeMessenger(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	matchmaker, registry := newTestMatchmaker(t, store, messenger, 2)

	done := make(chan struct{})
	go func() {
		matchmaker.Sweep(ctx)
		close(done)
	}()

	// The first sweep holds the chat claim while its membership checks are
	// still in flight; a second full sweep over the same candidates must not
	// activate a second roster.
	<-messenger.entered
	matchmaker.Sweep(ctx)

	close(messenger.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("first sweep did not finish")
	}

	assert.True(t, registry.Active(testChat))
	require.Len(t, registry.Snapshot(), 1)

	participants, err := store.ListByChat(testChat)
	require.NoError(t, err)
	var active int
	for _, p := range participants {
		if p.BattleActive {
			active++
		}
	}
	assert.Equal(t, 2, active, "only one quorum-sized roster may be active")
	assert.Len(t, messenger.sent(), 1, "exactly one battle announcement")
}

func TestSweepHandlesIndependentChats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newTestStore(t)
	otherChat := int64(-200456)
	registerThree(t, store)
	require.NoError(t, store.Register(otherChat, 7, "gina", testWallet(7)))
	require.NoError(t, store.Register(otherChat, 8, "hank", testWallet(8)))
	require.NoError(t, store.Register(otherChat, 9, "ivan", testWallet(9)))

	messenger := newFakeMessenger()
	matchmaker, registry := newTestMatchmaker(t, store, messenger, 3)

	matchmaker.Sweep(ctx)

	assert.True(t, registry.Active(testChat))
	assert.True(t, registry.Active(otherChat))
	assert.Len(t, messenger.sent(), 2)
}

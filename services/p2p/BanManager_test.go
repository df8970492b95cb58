package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBanHandler struct {
	mu         sync.Mutex
	lastHost   string
	lastUntil  time.Time
	lastReason string
}

func (h *testBanHandler) OnPeerBanned(host string, until time.Time, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastHost = host
	h.lastUntil = until
	h.lastReason = reason
}

func newTestBanManager(t *testing.T, handler BanEventHandler) *PeerBanManager {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tSettings := test.CreateBaseTestSettings()
	tSettings.P2P.BanThreshold = 30
	tSettings.P2P.BanDuration = 2 * time.Hour

	return NewPeerBanManager(ctx, handler, tSettings)
}

func TestAddScore_BanAndDecay(t *testing.T) {
	handler := &testBanHandler{}
	m := newTestBanManager(t, handler)

	m.decayInterval = time.Second
	m.decayAmount = 5

	score, banned := m.AddScore("10.0.0.1:9333", ReasonInvalidBlock)
	assert.Equal(t, 10, score)
	assert.False(t, banned)

	// another port on the same host adds to the same score
	score, banned = m.AddScore("10.0.0.1:41234", ReasonProtocolViolation)
	assert.Equal(t, 30, score)
	assert.True(t, banned)
	assert.Equal(t, "10.0.0.1", handler.lastHost)
	assert.Equal(t, ReasonProtocolViolation.String(), handler.lastReason)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), handler.lastUntil, time.Minute)

	assert.True(t, m.IsBanned("10.0.0.1:1"))
	assert.False(t, m.IsBanned("10.0.0.2:9333"))

	entry := m.peerBanScores["10.0.0.1"]
	entry.LastUpdate = entry.LastUpdate.Add(-3 * time.Second)

	m.AddScore("10.0.0.1:9333", ReasonInvalidTransaction)

	score, _, _ = m.GetBanScore("10.0.0.1:9333")
	assert.Less(t, score, 30)
}

func TestAddScore_UnknownReason(t *testing.T) {
	m := newTestBanManager(t, nil)

	score, banned := m.AddScore("peer2", ReasonUnknown)
	assert.Equal(t, 1, score)
	assert.False(t, banned)
}

func TestBanExpires(t *testing.T) {
	m := newTestBanManager(t, nil)

	for i := 0; i < 3; i++ {
		m.AddScore("10.0.0.3:9333", ReasonInvalidBlock)
	}

	require.True(t, m.IsBanned("10.0.0.3:9333"))
	assert.Equal(t, []string{"10.0.0.3"}, m.ListBanned())

	m.peerBanScores["10.0.0.3"].BanUntil = time.Now().Add(-time.Second)

	assert.False(t, m.IsBanned("10.0.0.3:9333"))
	assert.Empty(t, m.ListBanned())
}

func TestResetAndCleanupBanScore(t *testing.T) {
	m := newTestBanManager(t, nil)

	m.AddScore("10.0.0.4:9333", ReasonInvalidBlock)
	assert.Equal(t, []string{"invalid_block"}, m.GetBanReasons("10.0.0.4:9333"))

	m.ResetBanScore("10.0.0.4:9333")
	score, banned, _ := m.GetBanScore("10.0.0.4:9333")
	assert.Zero(t, score)
	assert.False(t, banned)
	assert.Nil(t, m.GetBanReasons("10.0.0.4:9333"))

	m.AddScore("10.0.0.5:9333", ReasonInvalidTransaction)
	m.peerBanScores["10.0.0.5"].LastUpdate = time.Now().Add(-10 * time.Minute)

	m.CleanupBanScores()

	_, ok := m.peerBanScores["10.0.0.5"]
	assert.False(t, ok)
}

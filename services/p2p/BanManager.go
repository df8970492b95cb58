package p2p

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/bsv-blockchain/powledger/settings"
)

// BanReason categorises the misbehaviour a peer is scored for.
type BanReason int

const (
	ReasonUnknown BanReason = iota
	ReasonMalformedMessage
	ReasonProtocolViolation
	ReasonInvalidBlock
	ReasonInvalidTransaction
)

func (r BanReason) String() string {
	switch r {
	case ReasonMalformedMessage:
		return "malformed_message"
	case ReasonProtocolViolation:
		return "protocol_violation"
	case ReasonInvalidBlock:
		return "invalid_block"
	case ReasonInvalidTransaction:
		return "invalid_transaction"
	default:
		return "unknown"
	}
}

// BanScore holds the score and ban status for a host. Scores decay by
// decayAmount every decayInterval.
type BanScore struct {
	Score      int
	Banned     bool
	BanUntil   time.Time
	LastUpdate time.Time
	Reasons    []string
}

// BanEventHandler is told when a host crosses the ban threshold.
type BanEventHandler interface {
	OnPeerBanned(host string, until time.Time, reason string)
}

// PeerBanManager scores misbehaving peers by host, so a banned node cannot
// come straight back on another port.
type PeerBanManager struct {
	ctx           context.Context
	mu            sync.RWMutex
	peerBanScores map[string]*BanScore
	reasonPoints  map[BanReason]int
	banThreshold  int
	banDuration   time.Duration
	decayInterval time.Duration
	decayAmount   int
	handler       BanEventHandler
}

func NewPeerBanManager(ctx context.Context, handler BanEventHandler, tSettings *settings.Settings) *PeerBanManager {
	m := &PeerBanManager{
		ctx:           ctx,
		peerBanScores: make(map[string]*BanScore),
		reasonPoints: map[BanReason]int{
			ReasonMalformedMessage:   50,
			ReasonProtocolViolation:  20,
			ReasonInvalidBlock:       10,
			ReasonInvalidTransaction: 5,
		},
		banThreshold:  tSettings.P2P.BanThreshold,
		banDuration:   tSettings.P2P.BanDuration,
		decayInterval: time.Minute,
		decayAmount:   1,
		handler:       handler,
	}

	go func(interval time.Duration) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.CleanupBanScores()
			case <-m.ctx.Done():
				return
			}
		}
	}(m.decayInterval)

	return m
}

// hostOf strips the port from addr; addresses without one are used as is.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}

// AddScore adds the points of reason to the score of the host of addr,
// after decaying it, and bans the host when the threshold is reached.
func (m *PeerBanManager) AddScore(addr string, reason BanReason) (score int, banned bool) {
	host := hostOf(addr)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	entry, ok := m.peerBanScores[host]
	if !ok {
		entry = &BanScore{LastUpdate: now}
		m.peerBanScores[host] = entry
	}

	decaySteps := int(now.Sub(entry.LastUpdate) / m.decayInterval)
	if decaySteps > 0 {
		entry.Score = max(0, entry.Score-decaySteps*m.decayAmount)
		entry.LastUpdate = now
	}

	entry.Reasons = append(entry.Reasons, reason.String())

	points, found := m.reasonPoints[reason]
	if !found {
		points = 1
	}

	entry.Score += points

	if entry.Score >= m.banThreshold && !entry.Banned {
		entry.Banned = true
		entry.BanUntil = now.Add(m.banDuration)
		banned = true

		if m.handler != nil {
			m.handler.OnPeerBanned(host, entry.BanUntil, reason.String())
		}
	}

	return entry.Score, entry.Banned
}

func (m *PeerBanManager) GetBanScore(addr string) (score int, banned bool, banUntil time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.peerBanScores[hostOf(addr)]
	if !ok {
		return 0, false, time.Time{}
	}

	return entry.Score, entry.Banned, entry.BanUntil
}

func (m *PeerBanManager) ResetBanScore(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.peerBanScores, hostOf(addr))
}

// IsBanned reports whether the host of addr is banned, lifting expired bans.
func (m *PeerBanManager) IsBanned(addr string) bool {
	host := hostOf(addr)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.peerBanScores[host]
	if !ok || !entry.Banned {
		return false
	}

	if time.Now().After(entry.BanUntil) {
		delete(m.peerBanScores, host)
		return false
	}

	return true
}

func (m *PeerBanManager) ListBanned() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var banned []string

	now := time.Now()

	for host, entry := range m.peerBanScores {
		if entry.Banned && now.Before(entry.BanUntil) {
			banned = append(banned, host)
		}
	}

	return banned
}

// CleanupBanScores forgets hosts whose score decayed to zero and whose ban,
// if any, expired.
func (m *PeerBanManager) CleanupBanScores() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	for host, entry := range m.peerBanScores {
		if steps := int(now.Sub(entry.LastUpdate) / m.decayInterval); steps > 0 {
			entry.Score = max(0, entry.Score-steps*m.decayAmount)
			entry.LastUpdate = now
		}

		if entry.Banned && now.After(entry.BanUntil) {
			entry.Banned = false
		}

		if entry.Score == 0 && !entry.Banned {
			delete(m.peerBanScores, host)
		}
	}
}

func (m *PeerBanManager) GetBanReasons(addr string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.peerBanScores[hostOf(addr)]
	if !ok {
		return nil
	}

	return append([]string{}, entry.Reasons...)
}

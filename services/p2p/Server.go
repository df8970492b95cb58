// Package p2p is the peer protocol engine. It accepts and dials peer sessions, feeds the blocks and
// transactions they announce into the chain manager, serves their requests and relays what the
// chain accepts to everyone else.
package p2p

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/p2p/peer"
	"github.com/bsv-blockchain/powledger/services/p2p/wire"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/retry"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

const (
	// maxKnownAddrs bounds the listen addresses remembered for getaddr replies.
	maxKnownAddrs = 1000

	// maxReconnectBackoff caps the wait between dials of an unreachable peer, in reconnect intervals.
	maxReconnectBackoff = 16
)

type Server struct {
	logger   ulogger.Logger
	settings *settings.Settings
	chain    ChainClient

	// nonce goes out in our version so a connection to ourselves is detected.
	nonce      uint64
	listenAddr atomic.String
	listenPort uint16

	ctx        context.Context
	cancelMu   sync.Mutex
	cancel     context.CancelFunc
	banManager *PeerBanManager

	// acceptLimiter paces inbound handshakes so a connection flood cannot starve the chain.
	acceptLimiter *rate.Limiter

	peersMu sync.RWMutex
	peers   map[uuid.UUID]*serverPeer

	// seen maps recently announced hashes to the peer that announced them.
	seen    *ttlcache.Cache[chainhash.Hash, uuid.UUID]
	relayed *ttlcache.Cache[chainhash.Hash, struct{}]

	addrsMu    sync.Mutex
	knownAddrs map[string]struct{}

	utxoWaitersMu sync.Mutex
	utxoWaiters   map[model.OwnerID][]chan *wire.MsgUtxos
}

// serverPeer is a session together with the server state kept for it.
type serverPeer struct {
	*peer.Peer

	server *Server

	mu sync.Mutex
	// continueHash is the last hash of a full getblocks reply. When the peer fetches that block it
	// is sent an inv of our tip to ask for the next batch.
	continueHash *chainhash.Hash
}

func New(logger ulogger.Logger, tSettings *settings.Settings, chain ChainClient) (*Server, error) {
	initPrometheusMetrics()

	if tSettings.P2P.SeenCacheSize == 0 {
		return nil, errors.NewConfigurationError("[P2P] p2p_seenCacheSize must be positive")
	}

	acceptLimit := rate.Inf
	if tSettings.P2P.InboundPerSecond > 0 {
		acceptLimit = rate.Limit(tSettings.P2P.InboundPerSecond)
	}

	return &Server{
		logger:        logger,
		settings:      tSettings,
		chain:         chain,
		nonce:         rand.Uint64(),
		ctx:           context.Background(),
		acceptLimiter: rate.NewLimiter(acceptLimit, max(tSettings.P2P.InboundPerSecond, 1)),
		peers:         make(map[uuid.UUID]*serverPeer),
		seen: ttlcache.New[chainhash.Hash, uuid.UUID](
			ttlcache.WithTTL[chainhash.Hash, uuid.UUID](tSettings.P2P.SeenCacheTTL),
			ttlcache.WithCapacity[chainhash.Hash, uuid.UUID](tSettings.P2P.SeenCacheSize),
		),
		relayed: ttlcache.New[chainhash.Hash, struct{}](
			ttlcache.WithTTL[chainhash.Hash, struct{}](tSettings.P2P.SeenCacheTTL),
			ttlcache.WithCapacity[chainhash.Hash, struct{}](tSettings.P2P.SeenCacheSize),
		),
		knownAddrs:  make(map[string]struct{}),
		utxoWaiters: make(map[model.OwnerID][]chan *wire.MsgUtxos),
	}, nil
}

func (s *Server) Health(_ context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	listenAddr := s.listenAddr.Load()
	if listenAddr == "" {
		return http.StatusServiceUnavailable, `{"resource": "p2p", "status": "not listening"}`, nil
	}

	banned := 0
	if s.banManager != nil {
		banned = len(s.banManager.ListBanned())
	}

	return http.StatusOK, fmt.Sprintf(`{"resource": "p2p", "listen": "%s", "peers": %d, "banned": %d}`,
		listenAddr, s.PeerCount(), banned), nil
}

func (s *Server) Init(ctx context.Context) error {
	s.banManager = NewPeerBanManager(ctx, s, s.settings)

	return nil
}

// Start listens for peers, dials the configured ones and relays chain notifications until ctx is
// done or Stop is called.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.cancelMu.Lock()
	s.ctx = ctx
	s.cancel = cancel
	s.cancelMu.Unlock()

	if s.banManager == nil {
		s.banManager = NewPeerBanManager(ctx, s, s.settings)
	}

	listener, err := net.Listen("tcp", s.settings.P2P.ListenAddress)
	if err != nil {
		return errors.NewServiceError("[P2P] failed to listen on %s", s.settings.P2P.ListenAddress, err)
	}

	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.listenPort = uint16(tcpAddr.Port) //nolint:gosec // tcp ports fit
	}

	s.listenAddr.Store(listener.Addr().String())
	s.logger.Infof("[P2P] listening on %s", listener.Addr())

	go s.seen.Start()
	defer s.seen.Stop()

	go s.relayed.Start()
	defer s.relayed.Stop()

	notifications := s.chain.Subscribe(ctx, "p2p")

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		s.acceptLoop(ctx, listener, &wg)
	}()

	for _, addr := range s.settings.P2P.ConnectPeers {
		wg.Add(1)

		go func(addr string) {
			defer wg.Done()
			s.connectLoop(ctx, addr)
		}(addr)
	}

	close(readyCh)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("[P2P] shutting down")

			_ = listener.Close()

			wg.Wait()

			s.listenAddr.Store("")

			return nil

		case notification, ok := <-notifications:
			if !ok {
				notifications = nil
				continue
			}

			s.handleNotification(notification)
		}
	}
}

func (s *Server) Stop(_ context.Context) error {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	return nil
}

// ListenAddr is the address peers can reach us on, empty until Start is listening.
func (s *Server) ListenAddr() string {
	return s.listenAddr.Load()
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, wg *sync.WaitGroup) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Errorf("[P2P][acceptLoop] accept failed: %v", err)
			}

			return
		}

		addr := conn.RemoteAddr().String()

		if err := s.acceptLimiter.Wait(ctx); err != nil {
			_ = conn.Close()
			return
		}

		if s.banManager.IsBanned(addr) {
			s.logger.Infof("[P2P][acceptLoop] refusing banned peer %s", addr)
			_ = conn.Close()

			continue
		}

		if s.inboundCount() >= s.settings.P2P.MaxPeers {
			s.logger.Infof("[P2P][acceptLoop] refusing %s, %d inbound peers already", addr, s.settings.P2P.MaxPeers)
			_ = conn.Close()

			continue
		}

		wg.Add(1)

		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn, true)
		}()
	}
}

// connectLoop keeps one outbound session to addr, reconnecting after ReconnectInterval whenever the
// dial fails or the session ends.
func (s *Server) connectLoop(ctx context.Context, addr string) {
	dialer := net.Dialer{Timeout: s.settings.P2P.HandshakeTimeout}
	backoff := retry.NewBackoff(s.settings.P2P.ReconnectInterval, 2, maxReconnectBackoff*s.settings.P2P.ReconnectInterval)

	for {
		if s.banManager.IsBanned(addr) {
			s.logger.Debugf("[P2P][connectLoop] %s is banned", addr)
		} else if conn, err := dialer.DialContext(ctx, "tcp", addr); err != nil {
			if ctx.Err() == nil {
				s.logger.Debugf("[P2P][connectLoop] failed to connect to %s: %v", addr, err)
			}
		} else {
			backoff.Succeeded()
			s.handleConn(ctx, conn, false)
		}

		if err := retry.Sleep(ctx, backoff.Failed()); err != nil {
			return
		}
	}
}

// handleConn runs one session from handshake to disconnect.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, inbound bool) {
	sp := &serverPeer{server: s}
	sp.Peer = peer.New(s.logger, s.peerConfig(sp), conn, inbound)

	stop := context.AfterFunc(ctx, sp.Disconnect)
	defer stop()

	if err := sp.Start(); err != nil {
		s.logger.Infof("[P2P][handleConn][%s] handshake failed: %v", sp, err)
		prometheusP2PDisconnects.WithLabelValues("handshake").Inc()

		return
	}

	s.addPeer(sp)

	if !inbound {
		sp.QueueMessage(&wire.MsgGetAddr{})
	}

	s.addKnownAddr(sp.ListenAddr())

	if sp.BestHeight() > s.chain.GetBestHeight() {
		s.startSync(sp)
	}

	sp.WaitForDisconnect()

	reason := sp.DisconnectReason()

	switch {
	case errors.Is(reason, errors.ErrMalformed):
		s.banManager.AddScore(sp.Addr(), ReasonMalformedMessage)
		prometheusP2PDisconnects.WithLabelValues("malformed").Inc()
	case errors.Is(reason, errors.ErrNetworkPeerMalicious):
		s.banManager.AddScore(sp.Addr(), ReasonProtocolViolation)
		prometheusP2PDisconnects.WithLabelValues("protocol").Inc()
	case errors.Is(reason, errors.ErrNetworkTimeout):
		prometheusP2PDisconnects.WithLabelValues("timeout").Inc()
	default:
		prometheusP2PDisconnects.WithLabelValues("closed").Inc()
	}

	s.logger.Infof("[P2P][handleConn][%s] disconnected: %v", sp, reason)

	s.removePeer(sp)
	s.removeSeenFrom(sp.ID())
	s.checkCaughtUp()
}

func (s *Server) peerConfig(sp *serverPeer) peer.Config {
	return peer.Config{
		Magic:            uint32(s.settings.ChainCfgParams.Net),
		UserAgent:        s.settings.P2P.UserAgent,
		ListenPort:       s.listenPort,
		Nonce:            s.nonce,
		BestHeight:       s.chain.GetBestHeight,
		HandshakeTimeout: s.settings.P2P.HandshakeTimeout,
		PingInterval:     s.settings.P2P.PingInterval,
		IdleTimeout:      s.settings.P2P.IdleTimeout,
		OnMessage: func(_ *peer.Peer, msg wire.Message) {
			sp.handleMessage(msg)
		},
	}
}

func (s *Server) addPeer(sp *serverPeer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	s.peers[sp.ID()] = sp
	prometheusP2PPeers.Set(float64(len(s.peers)))
}

func (s *Server) removePeer(sp *serverPeer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()

	delete(s.peers, sp.ID())
	prometheusP2PPeers.Set(float64(len(s.peers)))
}

// connectedPeers returns a snapshot of the established sessions.
func (s *Server) connectedPeers() []*serverPeer {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()

	peers := make([]*serverPeer, 0, len(s.peers))
	for _, sp := range s.peers {
		if sp.Connected() {
			peers = append(peers, sp)
		}
	}

	return peers
}

func (s *Server) PeerCount() int {
	return len(s.connectedPeers())
}

func (s *Server) inboundCount() int {
	count := 0

	for _, sp := range s.connectedPeers() {
		if sp.Inbound() {
			count++
		}
	}

	return count
}

func (s *Server) addKnownAddr(addr string) {
	if addr == "" {
		return
	}

	s.addrsMu.Lock()
	defer s.addrsMu.Unlock()

	if len(s.knownAddrs) < maxKnownAddrs {
		s.knownAddrs[addr] = struct{}{}
	}
}

func (s *Server) knownAddrList(exclude string) []string {
	s.addrsMu.Lock()
	defer s.addrsMu.Unlock()

	addrs := make([]string, 0, len(s.knownAddrs))

	for addr := range s.knownAddrs {
		if addr == exclude {
			continue
		}

		addrs = append(addrs, addr)

		if len(addrs) == wire.MaxAddrPerMsg {
			break
		}
	}

	return addrs
}

// markSeen records that peerID announced hash. It reports false when the hash was already seen.
func (s *Server) markSeen(hash chainhash.Hash, peerID uuid.UUID) bool {
	_, found := s.seen.GetOrSet(hash, peerID)
	return !found
}

// seenFrom is the peer that announced hash, uuid.Nil when unknown.
func (s *Server) seenFrom(hash chainhash.Hash) uuid.UUID {
	item := s.seen.Get(hash, ttlcache.WithDisableTouchOnHit[chainhash.Hash, uuid.UUID]())
	if item == nil {
		return uuid.Nil
	}

	return item.Value()
}

// removeSeenFrom forgets what a departed peer announced so another peer can serve it.
func (s *Server) removeSeenFrom(peerID uuid.UUID) {
	for hash, item := range s.seen.Items() {
		if item.Value() == peerID && !s.chain.GetBlockExists(&hash) {
			s.seen.Delete(hash)
		}
	}
}

// relayInventory announces iv to every peer except exclude, once per hash.
func (s *Server) relayInventory(iv *wire.InvVect, exclude uuid.UUID) {
	if _, found := s.relayed.GetOrSet(iv.Hash, struct{}{}); found {
		return
	}

	prometheusP2PRelayed.WithLabelValues(iv.Type.String()).Inc()

	for _, sp := range s.connectedPeers() {
		if sp.ID() == exclude {
			continue
		}

		inv := wire.NewMsgInv()
		_ = inv.AddInvVect(iv)

		sp.QueueMessage(inv)
	}
}

func (s *Server) handleNotification(notification *model.Notification) {
	var invType wire.InvType

	switch notification.Type {
	case model.NotificationTypeBlock:
		invType = wire.InvTypeBlock
	case model.NotificationTypeTransaction:
		invType = wire.InvTypeTx
	default:
		return
	}

	s.relayInventory(wire.NewInvVect(invType, notification.Hash), s.seenFrom(*notification.Hash))
}

// QueryUtxos asks the peer with the best chain for the unspent outputs of owner.
func (s *Server) QueryUtxos(ctx context.Context, owner model.OwnerID) ([]wire.Utxo, error) {
	var best *serverPeer

	for _, sp := range s.connectedPeers() {
		if best == nil || sp.BestHeight() > best.BestHeight() {
			best = sp
		}
	}

	if best == nil {
		return nil, errors.NewServiceUnavailableError("[P2P][QueryUtxos] no connected peers")
	}

	ch := make(chan *wire.MsgUtxos, 1)

	s.utxoWaitersMu.Lock()
	s.utxoWaiters[owner] = append(s.utxoWaiters[owner], ch)
	s.utxoWaitersMu.Unlock()

	defer s.removeUtxoWaiter(owner, ch)

	best.QueueMessage(&wire.MsgGetUtxos{Owner: owner})

	select {
	case msg := <-ch:
		return msg.Utxos, nil
	case <-ctx.Done():
		return nil, errors.NewContextCanceledError("[P2P][QueryUtxos] no answer from %s", best, ctx.Err())
	}
}

func (s *Server) removeUtxoWaiter(owner model.OwnerID, ch chan *wire.MsgUtxos) {
	s.utxoWaitersMu.Lock()
	defer s.utxoWaitersMu.Unlock()

	waiters := s.utxoWaiters[owner]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}

	if len(waiters) == 0 {
		delete(s.utxoWaiters, owner)
	} else {
		s.utxoWaiters[owner] = waiters
	}
}

// OnPeerBanned disconnects every session from the banned host.
func (s *Server) OnPeerBanned(host string, until time.Time, reason string) {
	prometheusP2PBans.Inc()

	s.logger.Warnf("[P2P] banned %s until %s for %s", host, until.Format(time.RFC3339), reason)

	for _, sp := range s.connectedPeers() {
		if hostOf(sp.Addr()) == host {
			sp.Disconnect()
		}
	}
}

func (sp *serverPeer) setContinueHash(hash *chainhash.Hash) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.continueHash = hash
}

// takeContinueHash reports whether hash is the pending continue hash, clearing it if so.
func (sp *serverPeer) takeContinueHash(hash *chainhash.Hash) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.continueHash == nil || !sp.continueHash.IsEqual(hash) {
		return false
	}

	sp.continueHash = nil

	return true
}

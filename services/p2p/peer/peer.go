// Package peer runs one session over one connection: the version handshake,
// keep-alive, and the framed message exchange. What to do with the messages
// is left to the caller through Config.OnMessage.
package peer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/services/p2p/wire"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/atomic"
)

const (
	// outputBufferSize is the number of messages that can be queued before
	// QueueMessage blocks.
	outputBufferSize = 1024

	defaultHandshakeTimeout = 30 * time.Second
	defaultPingInterval     = 2 * time.Minute
	defaultIdleTimeout      = 5 * time.Minute
)

type State string

const (
	StateConnected    State = "connected"
	StateHandshaking  State = "handshaking"
	StateEstablished  State = "established"
	StateDisconnected State = "disconnected"
)

const (
	eventHandshake  = "handshake"
	eventEstablish  = "establish"
	eventDisconnect = "disconnect"
)

type Config struct {
	// Magic is the network magic of our chain, framed on every message and
	// required of the remote version.
	Magic     uint32
	UserAgent string
	// ListenPort is advertised in our version, 0 when not listening.
	ListenPort uint16
	// Nonce identifies this process; a remote version carrying it means we
	// connected to ourselves.
	Nonce      uint64
	BestHeight func() uint32

	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	IdleTimeout      time.Duration

	// OnMessage is called from the input goroutine for every message after
	// the handshake except keep-alives. Replies are sent with QueueMessage.
	OnMessage func(p *Peer, msg wire.Message)
}

type outMsg struct {
	msg wire.Message
	// disconnect closes the session once msg is written.
	disconnect bool
}

// Peer is one session. It is created with New, started with Start and ends
// with Disconnect or when the remote misbehaves, times out or goes away.
type Peer struct {
	id      uuid.UUID
	logger  ulogger.Logger
	cfg     Config
	conn    net.Conn
	inbound bool

	finiteStateMachine *fsm.FSM

	bytesReceived atomic.Uint64
	bytesSent     atomic.Uint64
	lastRecv      atomic.Int64
	lastPingNonce atomic.Uint64

	versionMu     sync.RWMutex
	remoteVersion *wire.MsgVersion
	bestHeight    atomic.Uint32

	outputQueue    chan outMsg
	quit           chan struct{}
	disconnected   atomic.Bool
	disconnectMu   sync.Mutex
	disconnectErr  error
	handlersActive sync.WaitGroup
}

func New(logger ulogger.Logger, cfg Config, conn net.Conn, inbound bool) *Peer {
	initPrometheusMetrics()

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}

	if cfg.BestHeight == nil {
		cfg.BestHeight = func() uint32 { return 0 }
	}

	p := &Peer{
		id:          uuid.New(),
		logger:      logger,
		cfg:         cfg,
		conn:        conn,
		inbound:     inbound,
		outputQueue: make(chan outMsg, outputBufferSize),
		quit:        make(chan struct{}),
	}

	p.finiteStateMachine = fsm.NewFSM(
		string(StateConnected),
		fsm.Events{
			{Name: eventHandshake, Src: []string{string(StateConnected)}, Dst: string(StateHandshaking)},
			{Name: eventEstablish, Src: []string{string(StateHandshaking)}, Dst: string(StateEstablished)},
			{Name: eventDisconnect, Src: []string{string(StateConnected), string(StateHandshaking), string(StateEstablished)}, Dst: string(StateDisconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				p.logger.Debugf("[Peer][%s] %s -> %s", p, e.Src, e.Dst)
			},
		},
	)

	return p
}

func (p *Peer) String() string {
	direction := "outbound"
	if p.inbound {
		direction = "inbound"
	}

	return fmt.Sprintf("%s (%s, %s)", p.Addr(), direction, p.id.String()[:8])
}

func (p *Peer) ID() uuid.UUID {
	return p.id
}

func (p *Peer) Addr() string {
	return p.conn.RemoteAddr().String()
}

func (p *Peer) Inbound() bool {
	return p.inbound
}

func (p *Peer) State() State {
	return State(p.finiteStateMachine.Current())
}

func (p *Peer) BytesReceived() uint64 {
	return p.bytesReceived.Load()
}

func (p *Peer) BytesSent() uint64 {
	return p.bytesSent.Load()
}

func (p *Peer) LastRecv() time.Time {
	return time.Unix(0, p.lastRecv.Load())
}

// RemoteVersion is the version message the remote sent, nil before the
// handshake completes.
func (p *Peer) RemoteVersion() *wire.MsgVersion {
	p.versionMu.RLock()
	defer p.versionMu.RUnlock()

	return p.remoteVersion
}

// ListenAddr is the address the remote accepts connections on, empty when it
// does not listen.
func (p *Peer) ListenAddr() string {
	v := p.RemoteVersion()
	if v == nil || v.ListenPort == 0 {
		return ""
	}

	host, _, err := net.SplitHostPort(p.Addr())
	if err != nil {
		return ""
	}

	return net.JoinHostPort(host, fmt.Sprintf("%d", v.ListenPort))
}

// BestHeight is the remote height, from its version and raised as it
// announces blocks.
func (p *Peer) BestHeight() uint32 {
	return p.bestHeight.Load()
}

func (p *Peer) UpdateBestHeight(height uint32) {
	for {
		current := p.bestHeight.Load()
		if height <= current || p.bestHeight.CompareAndSwap(current, height) {
			return
		}
	}
}

// Start runs the handshake and, once it succeeds, the input and keep-alive
// goroutines. It returns the handshake error, after which the peer is
// already disconnected.
func (p *Peer) Start() error {
	p.handlersActive.Add(1)

	// the output goroutine must run before the handshake: both sides send
	// their version first and a synchronous write would deadlock on an
	// unbuffered connection
	go p.outHandler()

	if err := p.negotiate(); err != nil {
		p.disconnectWithError(err)
		return err
	}

	p.handlersActive.Add(2)

	go p.inHandler()
	go p.pingHandler()

	return nil
}

func (p *Peer) negotiate() error {
	if err := p.finiteStateMachine.Event(context.Background(), eventHandshake); err != nil {
		return errors.NewNetworkHandshakeError("[Peer][%s] handshake started twice", p, err)
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.HandshakeTimeout)); err != nil {
		return errors.NewNetworkError("[Peer][%s] failed to set handshake deadline", p, err)
	}

	p.QueueMessage(wire.NewMsgVersion(p.cfg.Magic, p.cfg.BestHeight(), p.cfg.Nonce, p.cfg.UserAgent, p.cfg.ListenPort))

	msg, err := p.readMessage()
	if err != nil {
		return errors.NewNetworkHandshakeError("[Peer][%s] failed to read version", p, err)
	}

	version, ok := msg.(*wire.MsgVersion)
	if !ok {
		return errors.NewNetworkHandshakeError("[Peer][%s] expected version, got %s", p, msg.Kind())
	}

	switch {
	case version.ProtocolVersion != wire.ProtocolVersion:
		return errors.NewNetworkHandshakeError("[Peer][%s] protocol version %d, want %d", p, version.ProtocolVersion, wire.ProtocolVersion)
	case version.Network != p.cfg.Magic:
		return errors.NewNetworkHandshakeError("[Peer][%s] network %08x, want %08x", p, version.Network, p.cfg.Magic)
	case version.Nonce == p.cfg.Nonce:
		return errors.NewNetworkHandshakeError("[Peer][%s] connected to self", p)
	}

	p.versionMu.Lock()
	p.remoteVersion = version
	p.versionMu.Unlock()
	p.UpdateBestHeight(version.BestHeight)

	p.QueueMessage(&wire.MsgVerAck{})

	if msg, err = p.readMessage(); err != nil {
		return errors.NewNetworkHandshakeError("[Peer][%s] failed to read verack", p, err)
	}

	if _, ok = msg.(*wire.MsgVerAck); !ok {
		return errors.NewNetworkHandshakeError("[Peer][%s] expected verack, got %s", p, msg.Kind())
	}

	if err = p.finiteStateMachine.Event(context.Background(), eventEstablish); err != nil {
		return errors.NewNetworkHandshakeError("[Peer][%s] disconnected during handshake", p, err)
	}

	p.logger.Infof("[Peer][%s] connected, agent %q height %d", p, version.UserAgent, version.BestHeight)

	return nil
}

func (p *Peer) readMessage() (wire.Message, error) {
	msg, n, err := wire.ReadMessage(p.conn, p.cfg.Magic)
	p.bytesReceived.Add(uint64(n))
	prometheusPeerBytesReceived.Add(float64(n))

	if err != nil {
		return nil, err
	}

	p.lastRecv.Store(time.Now().UnixNano())
	prometheusPeerMessagesReceived.WithLabelValues(msg.Kind().String()).Inc()

	return msg, nil
}

// inHandler reads messages until the connection fails, the remote breaks the
// protocol or nothing arrives for IdleTimeout.
func (p *Peer) inHandler() {
	defer p.handlersActive.Done()

	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.cfg.IdleTimeout)); err != nil {
			p.disconnectWithError(errors.NewNetworkError("[Peer][%s] failed to set read deadline", p, err))
			return
		}

		msg, err := p.readMessage()
		if err != nil {
			if !p.disconnected.Load() {
				if errors.Is(err, errors.ErrMalformed) {
					p.logger.Warnf("[Peer][%s] malformed message: %v", p, err)
				} else {
					p.logger.Debugf("[Peer][%s] read failed: %v", p, err)
				}
			}

			p.disconnectWithError(err)

			return
		}

		switch m := msg.(type) {
		case *wire.MsgPing:
			p.QueueMessage(wire.NewMsgPong(m.Nonce))

		case *wire.MsgPong:
			if expected := p.lastPingNonce.Load(); expected == 0 || m.Nonce != expected {
				p.disconnectWithError(errors.NewNetworkPeerMaliciousError("[Peer][%s] unsolicited pong %d", p, m.Nonce))
				return
			}

			p.lastPingNonce.Store(0)

		case *wire.MsgVersion, *wire.MsgVerAck:
			p.disconnectWithError(errors.NewNetworkPeerMaliciousError("[Peer][%s] %s after handshake", p, msg.Kind()))
			return

		default:
			if p.cfg.OnMessage != nil {
				p.cfg.OnMessage(p, msg)
			}
		}
	}
}

// outHandler writes queued messages in order.
func (p *Peer) outHandler() {
	defer p.handlersActive.Done()

	for {
		select {
		case out := <-p.outputQueue:
			msg := out.msg

			if err := p.conn.SetWriteDeadline(time.Now().Add(p.cfg.IdleTimeout)); err != nil {
				p.disconnectWithError(errors.NewNetworkError("[Peer][%s] failed to set write deadline", p, err))
				return
			}

			n, err := wire.WriteMessage(p.conn, msg, p.cfg.Magic)
			p.bytesSent.Add(uint64(n))
			prometheusPeerBytesSent.Add(float64(n))

			if err != nil {
				if !p.disconnected.Load() {
					p.logger.Debugf("[Peer][%s] failed to send %s: %v", p, msg.Kind(), err)
				}

				p.disconnectWithError(err)

				return
			}

			prometheusPeerMessagesSent.WithLabelValues(msg.Kind().String()).Inc()

			if out.disconnect {
				p.Disconnect()
				return
			}

		case <-p.quit:
			return
		}
	}
}

// pingHandler sends a ping every PingInterval. A ping still unanswered at the
// next tick disconnects the peer.
func (p *Peer) pingHandler() {
	defer p.handlersActive.Done()

	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.lastPingNonce.Load() != 0 {
				p.disconnectWithError(errors.NewNetworkTimeoutError("[Peer][%s] ping not answered within %s", p, p.cfg.PingInterval))
				return
			}

			nonce := rand.Uint64() | 1
			p.lastPingNonce.Store(nonce)
			p.QueueMessage(wire.NewMsgPing(nonce))

		case <-p.quit:
			return
		}
	}
}

// QueueMessage queues msg for sending. It blocks while the queue is full and
// drops the message once the peer is disconnected.
func (p *Peer) QueueMessage(msg wire.Message) {
	p.queue(outMsg{msg: msg})
}

// QueueMessageAndDisconnect sends msg after everything already queued and
// then disconnects. Used to tell a misbehaving peer why it is dropped.
func (p *Peer) QueueMessageAndDisconnect(msg wire.Message) {
	p.queue(outMsg{msg: msg, disconnect: true})
}

func (p *Peer) queue(out outMsg) {
	select {
	case p.outputQueue <- out:
	case <-p.quit:
	}
}

func (p *Peer) Connected() bool {
	return !p.disconnected.Load()
}

// Disconnect closes the connection and stops the session goroutines. It is
// safe to call more than once.
func (p *Peer) Disconnect() {
	p.disconnectWithError(nil)
}

func (p *Peer) disconnectWithError(err error) {
	if !p.disconnected.CompareAndSwap(false, true) {
		return
	}

	p.disconnectMu.Lock()
	p.disconnectErr = err
	p.disconnectMu.Unlock()

	if fsmErr := p.finiteStateMachine.Event(context.Background(), eventDisconnect); fsmErr != nil {
		p.logger.Debugf("[Peer][%s] %v", p, fsmErr)
	}

	close(p.quit)
	_ = p.conn.Close()
}

// DisconnectReason is the error that ended the session, nil when it was
// closed with Disconnect or is still running.
func (p *Peer) DisconnectReason() error {
	p.disconnectMu.Lock()
	defer p.disconnectMu.Unlock()

	return p.disconnectErr
}

// WaitForDisconnect blocks until the peer is disconnected and its goroutines
// have returned.
func (p *Peer) WaitForDisconnect() {
	<-p.quit
	p.handlersActive.Wait()
}

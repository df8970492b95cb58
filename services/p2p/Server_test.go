package p2p

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/services/blockchain"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/services/p2p/peer"
	"github.com/bsv-blockchain/powledger/services/p2p/wire"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/stores/utxo/memory"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/test"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type testNode struct {
	chain  *blockchain.Blockchain
	server *Server
	params *chaincfg.Params
}

// newTestNode starts a chain and a peer server listening on a loopback port.
func newTestNode(t *testing.T, opts ...func(*settings.Settings)) *testNode {
	t.Helper()

	tSettings := test.CreateBaseTestSettings()
	tSettings.P2P.ReconnectInterval = 50 * time.Millisecond
	tSettings.P2P.HandshakeTimeout = time.Second

	for _, opt := range opts {
		opt(tSettings)
	}

	logger := ulogger.TestLogger{}

	chain, err := blockchain.New(logger, tSettings, memory.New(logger))
	require.NoError(t, err)

	server, err := New(logger, tSettings, chain)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(2)

	chainReady := make(chan struct{})

	go func() {
		defer wg.Done()
		_ = chain.Start(ctx, chainReady)
	}()

	<-chainReady

	require.NoError(t, server.Init(ctx))

	serverReady := make(chan struct{})

	go func() {
		defer wg.Done()
		_ = server.Start(ctx, serverReady)
	}()

	<-serverReady

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return &testNode{chain: chain, server: server, params: tSettings.ChainCfgParams}
}

func connectTo(n *testNode) func(*settings.Settings) {
	return func(s *settings.Settings) {
		s.P2P.ConnectPeers = []string{n.server.ListenAddr()}
	}
}

func waitForPeers(t *testing.T, n *testNode, count int) {
	t.Helper()

	require.Eventually(t, func() bool { return n.server.PeerCount() == count }, waitFor, tick)
}

func waitForTip(t *testing.T, n *testNode, hash *chainhash.Hash) {
	t.Helper()

	require.Eventually(t, func() bool {
		header, _ := n.chain.GetBestBlockHeader()
		return header.Hash().IsEqual(hash)
	}, waitFor, tick)
}

func processAll(t *testing.T, n *testNode, blocks ...*model.Block) {
	t.Helper()

	for _, block := range blocks {
		result, err := n.chain.ProcessBlock(context.Background(), block)
		require.NoError(t, err)
		require.Equal(t, blockvalidation.StatusAccepted, result.Status, "block %s: %v", block.Hash(), result.Err)
	}
}

// recorder collects what a raw test peer receives.
type recorder struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (r *recorder) onMessage(_ *peer.Peer, msg wire.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, msg)
}

func (r *recorder) findAll(kind wire.Kind) []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found []wire.Message

	for _, msg := range r.msgs {
		if msg.Kind() == kind {
			found = append(found, msg)
		}
	}

	return found
}

func (r *recorder) find(kind wire.Kind) wire.Message {
	if found := r.findAll(kind); len(found) > 0 {
		return found[0]
	}

	return nil
}

// dialRawPeer opens a bare session to n, driven by the test instead of a server.
func dialRawPeer(t *testing.T, n *testNode, r *recorder) (*peer.Peer, error) {
	t.Helper()

	conn, err := net.Dial("tcp", n.server.ListenAddr())
	require.NoError(t, err)

	p := peer.New(ulogger.TestLogger{}, peer.Config{
		Magic:            uint32(n.params.Net),
		UserAgent:        "/raw-test-peer/",
		Nonce:            42,
		HandshakeTimeout: time.Second,
		OnMessage:        r.onMessage,
	}, conn, false)

	t.Cleanup(p.Disconnect)

	return p, p.Start()
}

func TestBlockPropagation(t *testing.T) {
	n1 := newTestNode(t)
	n2 := newTestNode(t, connectTo(n1))

	waitForPeers(t, n1, 1)
	waitForPeers(t, n2, 1)

	_, owner := test.NewKey(t)
	b1 := test.MineBlock(t, n1.params, n1.params.GenesisBlock.Header, 1, owner, 0)

	processAll(t, n1, b1)

	waitForTip(t, n2, b1.Hash())

	assert.Equal(t, uint32(1), n2.chain.GetBestHeight())
	assert.Equal(t, 1, n2.chain.UtxoCount())

	coinbase := model.Outpoint{TxID: b1.Transactions[0].TxID(), Index: 0}

	want, ok := n1.chain.GetUtxo(coinbase)
	require.True(t, ok)

	got, ok := n2.chain.GetUtxo(coinbase)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, n1.params.BlockSubsidy(1), got.Value)
}

func TestCatchUp(t *testing.T) {
	// a small inv limit forces several getblocks rounds
	n1 := newTestNode(t, func(s *settings.Settings) { s.P2P.MaxBlocksPerInv = 2 })

	_, owner := test.NewKey(t)
	blocks := test.BuildChain(t, n1.params, n1.params.GenesisBlock.Header, 1, 7, owner)
	processAll(t, n1, blocks...)

	n2 := newTestNode(t, connectTo(n1))

	waitForTip(t, n2, blocks[len(blocks)-1].Hash())

	require.Eventually(t, func() bool { return !n2.chain.IsCatchingUp() }, waitFor, tick)
	assert.Equal(t, 7, n2.chain.UtxoCount())
}

func TestTransactionRelay(t *testing.T) {
	n1 := newTestNode(t)
	n2 := newTestNode(t, connectTo(n1))

	waitForPeers(t, n2, 1)

	key, owner := test.NewKey(t)
	b1 := test.MineBlock(t, n1.params, n1.params.GenesisBlock.Header, 1, owner, 0)
	processAll(t, n1, b1)
	waitForTip(t, n2, b1.Hash())

	_, other := test.NewKey(t)
	tx := test.Spend(t, key, []model.Outpoint{test.Outpoint(b1.Transactions[0], 0)}, test.Pay(other, 1000))

	_, err := n1.chain.SubmitTransaction(context.Background(), tx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := n2.chain.GetMempoolTransaction(tx.TxIDChainHash())
		return ok
	}, waitFor, tick)
}

func TestQueryUtxos(t *testing.T) {
	n1 := newTestNode(t)

	_, owner := test.NewKey(t)
	b1 := test.MineBlock(t, n1.params, n1.params.GenesisBlock.Header, 1, owner, 0)
	processAll(t, n1, b1)

	n2 := newTestNode(t, connectTo(n1))
	waitForPeers(t, n2, 1)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	utxos, err := n2.server.QueryUtxos(ctx, owner)
	require.NoError(t, err)
	require.Len(t, utxos, 1)

	assert.Equal(t, b1.Transactions[0].TxID(), utxos[0].TxID)
	assert.Equal(t, n1.params.BlockSubsidy(1), utxos[0].Value)
	assert.Equal(t, uint32(1), utxos[0].Height)
	assert.True(t, utxos[0].Coinbase)

	t.Run("no peers", func(t *testing.T) {
		lonely := newTestNode(t)

		_, err := lonely.server.QueryUtxos(ctx, owner)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))
	})
}

func TestInvalidBlockDisconnects(t *testing.T) {
	n1 := newTestNode(t)

	var r recorder

	p, err := dialRawPeer(t, n1, &r)
	require.NoError(t, err)

	// the coinbase claims fees the block does not have
	_, owner := test.NewKey(t)
	bad := test.MineBlock(t, n1.params, n1.params.GenesisBlock.Header, 1, owner, 1)

	p.QueueMessage(wire.NewMsgBlock(bad))

	p.WaitForDisconnect()

	msgs := r.findAll(wire.KindReject)
	require.Len(t, msgs, 1)

	reject := msgs[0].(*wire.MsgReject)
	assert.Equal(t, wire.KindBlock, reject.RejectedKind)
	assert.Equal(t, *bad.Hash(), reject.Hash)
	assert.Equal(t, uint32(0), n1.chain.GetBestHeight())

	require.Eventually(t, func() bool {
		score, _, _ := n1.server.banManager.GetBanScore("127.0.0.1:1")
		return score == 10
	}, waitFor, tick)

	// another peer announcing the same hash gets asked for its copy
	assert.Equal(t, uuid.Nil, n1.server.seenFrom(*bad.Hash()))
}

func TestCanceledBlockIsNotHeldAgainstPeer(t *testing.T) {
	tSettings := test.CreateBaseTestSettings()
	logger := ulogger.TestLogger{}

	chain, err := blockchain.New(logger, tSettings, memory.New(logger))
	require.NoError(t, err)

	s, err := New(logger, tSettings, chain)
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.ctx = ctx

	conn, remote := net.Pipe()
	defer conn.Close()
	defer remote.Close()

	sp := &serverPeer{server: s}
	sp.Peer = peer.New(logger, s.peerConfig(sp), conn, true)

	_, owner := test.NewKey(t)
	block := test.MineBlock(t, tSettings.ChainCfgParams, tSettings.ChainCfgParams.GenesisBlock.Header, 1, owner, 0)

	sp.OnBlock(wire.NewMsgBlock(block))

	score, _, _ := s.banManager.GetBanScore(sp.Addr())
	assert.Zero(t, score)
	assert.True(t, sp.Connected())
	assert.Equal(t, uint32(0), chain.GetBestHeight())
}

func TestBannedHostIsRefused(t *testing.T) {
	n1 := newTestNode(t)

	var r recorder

	p, err := dialRawPeer(t, n1, &r)
	require.NoError(t, err)
	waitForPeers(t, n1, 1)

	_, banned := n1.server.banManager.AddScore("127.0.0.1:1", ReasonMalformedMessage)
	require.False(t, banned)

	_, banned = n1.server.banManager.AddScore("127.0.0.1:2", ReasonMalformedMessage)
	require.True(t, banned)

	// the existing session is dropped and new ones are refused
	p.WaitForDisconnect()

	_, err = dialRawPeer(t, n1, &recorder{})
	require.Error(t, err)
}

func TestServeRequests(t *testing.T) {
	n1 := newTestNode(t)

	_, owner := test.NewKey(t)
	blocks := test.BuildChain(t, n1.params, n1.params.GenesisBlock.Header, 1, 3, owner)
	processAll(t, n1, blocks...)

	var r recorder

	p, err := dialRawPeer(t, n1, &r)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), p.BestHeight())

	locator := []chainhash.Hash{*n1.params.GenesisHash}

	p.QueueMessage(wire.NewMsgGetHeaders(locator, nil))
	p.QueueMessage(wire.NewMsgGetBlocks(locator, blocks[1].Hash()))

	missing := chainhash.HashH([]byte("missing"))
	getData := wire.NewMsgGetData()
	_ = getData.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, blocks[0].Hash()))
	_ = getData.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &missing))
	p.QueueMessage(getData)

	// getblocks stops at the requested hash
	var inv *wire.MsgInv

	require.Eventually(t, func() bool {
		for _, msg := range r.findAll(wire.KindInv) {
			if m := msg.(*wire.MsgInv); len(m.InvList) == 2 {
				inv = m
			}
		}

		return inv != nil && r.find(wire.KindHeaders) != nil &&
			r.find(wire.KindBlock) != nil && r.find(wire.KindNotFound) != nil
	}, waitFor, tick)

	headers := r.find(wire.KindHeaders).(*wire.MsgHeaders)
	require.Len(t, headers.Headers, 3)
	assert.Equal(t, blocks[2].Hash(), headers.Headers[2].Hash())

	assert.Equal(t, *blocks[0].Hash(), inv.InvList[0].Hash)
	assert.Equal(t, *blocks[1].Hash(), inv.InvList[1].Hash)

	assert.Equal(t, blocks[0].Hash(), r.find(wire.KindBlock).(*wire.MsgBlock).Block.Hash())

	notFound := r.find(wire.KindNotFound).(*wire.MsgNotFound)
	require.Len(t, notFound.InvList, 1)
	assert.Equal(t, missing, notFound.InvList[0].Hash)
}

func TestHealth(t *testing.T) {
	n1 := newTestNode(t)

	status, _, err := n1.server.Health(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	status, details, err := n1.server.Health(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, details, `"peers": 0`)
}

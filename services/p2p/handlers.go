package p2p

import (
	"net"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/services/blockvalidation"
	"github.com/bsv-blockchain/powledger/services/p2p/wire"
)

// handleMessage dispatches a message from the session's input goroutine. A handler blocks further
// reads from its peer until it returns, so a peer feeding blocks waits for each to be processed.
func (sp *serverPeer) handleMessage(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.MsgInv:
		sp.OnInv(m)
	case *wire.MsgGetData:
		sp.OnGetData(m)
	case *wire.MsgNotFound:
		sp.OnNotFound(m)
	case *wire.MsgBlock:
		sp.OnBlock(m)
	case *wire.MsgTx:
		sp.OnTx(m)
	case *wire.MsgGetBlocks:
		sp.OnGetBlocks(m)
	case *wire.MsgGetHeaders:
		sp.OnGetHeaders(m)
	case *wire.MsgHeaders:
		sp.OnHeaders(m)
	case *wire.MsgGetAddr:
		sp.OnGetAddr(m)
	case *wire.MsgAddr:
		sp.OnAddr(m)
	case *wire.MsgReject:
		sp.OnReject(m)
	case *wire.MsgGetUtxos:
		sp.OnGetUtxos(m)
	case *wire.MsgUtxos:
		sp.OnUtxos(m)
	default:
		sp.server.logger.Warnf("[P2P][%s] unexpected %s, disconnecting", sp, msg.Kind())
		sp.Disconnect()
	}
}

// OnInv requests every announced block or transaction that is neither known nor already requested.
func (sp *serverPeer) OnInv(msg *wire.MsgInv) {
	s := sp.server
	getData := wire.NewMsgGetData()
	missingParents := false

	for _, iv := range msg.InvList {
		switch iv.Type {
		case wire.InvTypeBlock:
			if s.chain.IsOrphan(&iv.Hash) {
				missingParents = true
				continue
			}

			if s.chain.GetBlockExists(&iv.Hash) {
				continue
			}

		case wire.InvTypeTx:
			if _, ok := s.chain.GetMempoolTransaction(&iv.Hash); ok {
				continue
			}
		}

		if !s.markSeen(iv.Hash, sp.ID()) {
			continue
		}

		_ = getData.AddInvVect(iv)
	}

	if len(getData.InvList) > 0 {
		sp.QueueMessage(getData)
	}

	// the peer is ahead of us and the parents of a held orphan are still missing
	if missingParents {
		sp.QueueMessage(wire.NewMsgGetBlocks(s.chain.GetBlockLocator(), nil))
	}
}

// OnGetData sends the requested blocks and mempool transactions, answering the rest with notfound.
func (sp *serverPeer) OnGetData(msg *wire.MsgGetData) {
	s := sp.server
	notFound := wire.NewMsgNotFound()

	for _, iv := range msg.InvList {
		switch iv.Type {
		case wire.InvTypeBlock:
			block, err := s.chain.GetBlock(&iv.Hash)
			if err != nil {
				_ = notFound.AddInvVect(iv)
				continue
			}

			sp.QueueMessage(wire.NewMsgBlock(block))

			if sp.takeContinueHash(&iv.Hash) {
				tip, _ := s.chain.GetBestBlockHeader()

				inv := wire.NewMsgInv()
				_ = inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, tip.Hash()))

				sp.QueueMessage(inv)
			}

		case wire.InvTypeTx:
			tx, ok := s.chain.GetMempoolTransaction(&iv.Hash)
			if !ok {
				_ = notFound.AddInvVect(iv)
				continue
			}

			sp.QueueMessage(wire.NewMsgTx(tx))
		}
	}

	if len(notFound.InvList) > 0 {
		sp.QueueMessage(notFound)
	}
}

// OnNotFound lets another peer's announcement of the same items be requested.
func (sp *serverPeer) OnNotFound(msg *wire.MsgNotFound) {
	for _, iv := range msg.InvList {
		if sp.server.seenFrom(iv.Hash) == sp.ID() {
			sp.server.seen.Delete(iv.Hash)
		}
	}
}

func (sp *serverPeer) OnBlock(msg *wire.MsgBlock) {
	s := sp.server
	hash := msg.Block.Hash()

	s.markSeen(*hash, sp.ID())

	result, err := s.chain.ProcessBlock(s.ctx, msg.Block)
	if err != nil {
		// the chain service stops the node on this
		s.logger.Errorf("[P2P][OnBlock][%s] failed to process block from %s: %v", hash, sp, err)
		return
	}

	switch result.Status {
	case blockvalidation.StatusAccepted:
		if _, height, err := s.chain.GetBlockHeader(hash); err == nil {
			sp.UpdateBestHeight(height)
		}

		s.relayInventory(wire.NewInvVect(wire.InvTypeBlock, hash), sp.ID())
		s.checkCaughtUp()

	case blockvalidation.StatusOrphan:
		sp.QueueMessage(wire.NewMsgGetBlocks(s.chain.GetBlockLocator(), nil))

	case blockvalidation.StatusRejected:
		switch {
		case errors.Is(result.Err, errors.ErrBlockExists), errors.Is(result.Err, errors.ErrContextCanceled):
		case errors.Is(result.Err, errors.ErrBlockReorgTooDeep):
			sp.QueueMessage(wire.NewMsgReject(wire.KindBlock, errors.CodeOf(result.Err), result.Err.Error(), hash))
		default:
			// the header may be shared with a valid body, so another peer's copy must stay fetchable
			s.seen.Delete(*hash)
			sp.rejectAndDisconnect(wire.KindBlock, hash, result.Err, ReasonInvalidBlock)
		}
	}
}

// OnTx submits a transaction to the mempool. Rejections that depend on our own state, such as a
// missing input, are reported without holding them against the peer.
func (sp *serverPeer) OnTx(msg *wire.MsgTx) {
	s := sp.server
	txID := msg.Tx.TxIDChainHash()

	s.markSeen(*txID, sp.ID())

	_, err := s.chain.SubmitTransaction(s.ctx, msg.Tx)

	switch {
	case err == nil:
		s.relayInventory(wire.NewInvVect(wire.InvTypeTx, txID), sp.ID())

	case errors.Is(err, errors.ErrTxExists), errors.Is(err, errors.ErrContextCanceled):

	case errors.Is(err, errors.ErrTxMissingInput),
		errors.Is(err, errors.ErrTxDoubleSpend),
		errors.Is(err, errors.ErrMempoolFull):
		sp.QueueMessage(wire.NewMsgReject(wire.KindTx, errors.CodeOf(err), err.Error(), txID))

	default:
		sp.rejectAndDisconnect(wire.KindTx, txID, err, ReasonInvalidTransaction)
	}
}

// rejectAndDisconnect scores the peer, tells it why and drops it.
func (sp *serverPeer) rejectAndDisconnect(kind wire.Kind, hash *chainhash.Hash, reason error, banReason BanReason) {
	s := sp.server

	s.logger.Warnf("[P2P][%s] %s %s rejected, disconnecting: %v", sp, kind, hash, reason)

	sp.QueueMessageAndDisconnect(wire.NewMsgReject(kind, errors.CodeOf(reason), reason.Error(), hash))

	s.banManager.AddScore(sp.Addr(), banReason)
}

// OnGetBlocks announces the canonical blocks following the locator fork point.
func (sp *serverPeer) OnGetBlocks(msg *wire.MsgGetBlocks) {
	s := sp.server

	limit := min(s.settings.P2P.MaxBlocksPerInv, wire.MaxBlocksPerMsg)

	hashes := s.chain.LocateBlocks(msg.BlockLocatorHashes, hashStop(&msg.HashStop), limit)
	if len(hashes) == 0 {
		return
	}

	inv := wire.NewMsgInv()
	for i := range hashes {
		_ = inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hashes[i]))
	}

	if len(hashes) == limit {
		continueHash := hashes[len(hashes)-1]
		sp.setContinueHash(&continueHash)
	}

	sp.QueueMessage(inv)
}

func (sp *serverPeer) OnGetHeaders(msg *wire.MsgGetHeaders) {
	s := sp.server

	limit := min(s.settings.P2P.MaxHeaders, wire.MaxBlockHeadersPerMsg)

	sp.QueueMessage(&wire.MsgHeaders{
		Headers: s.chain.LocateHeaders(msg.BlockLocatorHashes, hashStop(&msg.HashStop), limit),
	})
}

// OnHeaders requests the blocks behind headers we do not have.
func (sp *serverPeer) OnHeaders(msg *wire.MsgHeaders) {
	s := sp.server
	getData := wire.NewMsgGetData()

	for _, header := range msg.Headers {
		hash := header.Hash()

		if s.chain.GetBlockExists(hash) || s.chain.IsOrphan(hash) || !s.markSeen(*hash, sp.ID()) {
			continue
		}

		_ = getData.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, hash))
	}

	if len(getData.InvList) > 0 {
		sp.QueueMessage(getData)
	}
}

func (sp *serverPeer) OnGetAddr(_ *wire.MsgGetAddr) {
	sp.QueueMessage(&wire.MsgAddr{AddrList: sp.server.knownAddrList(sp.ListenAddr())})
}

func (sp *serverPeer) OnAddr(msg *wire.MsgAddr) {
	for _, addr := range msg.AddrList {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			sp.server.logger.Debugf("[P2P][%s] ignoring address %q: %v", sp, addr, err)
			continue
		}

		sp.server.addKnownAddr(addr)
	}
}

func (sp *serverPeer) OnReject(msg *wire.MsgReject) {
	sp.server.logger.Warnf("[P2P][%s] rejected our %s %s: %s (%s)", sp, msg.RejectedKind, msg.Hash, msg.Reason, msg.Code)
}

// OnGetUtxos answers a wallet query for the unspent outputs of an owner.
func (sp *serverPeer) OnGetUtxos(msg *wire.MsgGetUtxos) {
	unspent := sp.server.chain.UnspentByOwner(msg.Owner)
	if len(unspent) > wire.MaxUtxosPerMsg {
		unspent = unspent[:wire.MaxUtxosPerMsg]
	}

	reply := &wire.MsgUtxos{
		Owner: msg.Owner,
		Utxos: make([]wire.Utxo, 0, len(unspent)),
	}

	for _, u := range unspent {
		reply.Utxos = append(reply.Utxos, wire.Utxo{
			TxID:     u.Outpoint.TxID,
			Index:    u.Outpoint.Index,
			Value:    u.Entry.Value,
			Height:   u.Entry.Height,
			Coinbase: u.Entry.Coinbase,
		})
	}

	sp.QueueMessage(reply)
}

// OnUtxos hands an answer to whoever is waiting in QueryUtxos.
func (sp *serverPeer) OnUtxos(msg *wire.MsgUtxos) {
	s := sp.server

	s.utxoWaitersMu.Lock()
	defer s.utxoWaitersMu.Unlock()

	for _, ch := range s.utxoWaiters[msg.Owner] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// hashStop maps the all-zero stop hash to no stop.
func hashStop(hash *chainhash.Hash) *chainhash.Hash {
	if hash.IsEqual(&chainhash.Hash{}) {
		return nil
	}

	return hash
}

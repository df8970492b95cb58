package p2p

import (
	"github.com/bsv-blockchain/powledger/services/p2p/wire"
)

// startSync puts the chain in catch-up mode and asks sp, which is ahead of us, for the blocks after
// our locator.
func (s *Server) startSync(sp *serverPeer) {
	if err := s.chain.CatchUpBlocks(s.ctx); err != nil {
		s.logger.Warnf("[P2P][startSync] %v", err)
	}

	s.logger.Infof("[P2P][startSync] %s is at height %d, we are at %d, requesting blocks", sp, sp.BestHeight(), s.chain.GetBestHeight())

	sp.QueueMessage(wire.NewMsgGetBlocks(s.chain.GetBlockLocator(), nil))
}

// checkCaughtUp leaves catch-up mode once no connected peer is known to be ahead of us.
func (s *Server) checkCaughtUp() {
	if !s.chain.IsCatchingUp() {
		return
	}

	height := s.chain.GetBestHeight()
	if height < s.bestPeerHeight() {
		return
	}

	s.logger.Infof("[P2P][checkCaughtUp] caught up at height %d", height)

	if err := s.chain.Run(s.ctx); err != nil {
		s.logger.Warnf("[P2P][checkCaughtUp] %v", err)
	}
}

func (s *Server) bestPeerHeight() uint32 {
	var best uint32

	for _, sp := range s.connectedPeers() {
		best = max(best, sp.BestHeight())
	}

	return best
}

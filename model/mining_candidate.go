package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
)

// MiningCandidate is everything an external miner needs to build a block on the current tip.
type MiningCandidate struct {
	ID            string
	PreviousHash  *chainhash.Hash
	Height        uint32
	NBits         NBit
	MinTime       uint32
	CoinbaseValue uint64
	Fees          uint64
	Transactions  []*Transaction
}

// MiningSolution is what the miner hands back: the coinbase paying itself plus the nonce and time
// that satisfy the target.
type MiningSolution struct {
	ID       string
	Owner    OwnerID
	Nonce    uint64
	Time     uint32
	Coinbase *Transaction
}

// CreateCoinbaseTx pays the full candidate value to owner.
func (mc *MiningCandidate) CreateCoinbaseTx(owner OwnerID) *Transaction {
	return NewCoinbaseTransaction(mc.Height, mc.CoinbaseValue, owner)
}

// NewBlock assembles the candidate with the given coinbase, time and nonce.
func (mc *MiningCandidate) NewBlock(coinbase *Transaction, timestamp uint32, nonce uint64) *Block {
	txs := make([]*Transaction, 0, len(mc.Transactions)+1)
	txs = append(txs, coinbase)
	txs = append(txs, mc.Transactions...)

	block := NewBlock(mc.PreviousHash, timestamp, mc.NBits, txs)
	block.Header.Nonce = nonce

	return block
}

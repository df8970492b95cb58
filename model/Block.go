package model

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
)

const maxBlockTransactions = 1_000_000

type Block struct {
	Header       *BlockHeader
	Transactions []*Transaction
}

// NewBlock builds a block on top of prev and fills in the merkle root of txs.
func NewBlock(prev *chainhash.Hash, timestamp uint32, bits NBit, txs []*Transaction) *Block {
	b := &Block{
		Header: &BlockHeader{
			HashPrevBlock: prev,
			Timestamp:     timestamp,
			Bits:          bits,
		},
		Transactions: txs,
	}

	root := b.CalculateMerkleRoot()
	b.Header.HashMerkleRoot = &root

	return b
}

func NewBlockFromBytes(blockBytes []byte) (*Block, error) {
	r := bytes.NewReader(blockBytes)

	block, err := NewBlockFromReader(r)
	if err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, errors.NewMalformedError("%d trailing bytes after block", r.Len())
	}

	return block, nil
}

func NewBlockFromReader(r io.Reader) (*Block, error) {
	header, err := NewBlockHeaderFromReader(r)
	if err != nil {
		return nil, err
	}

	txCount, err := readCount(r, maxBlockTransactions, "transaction count")
	if err != nil {
		return nil, err
	}

	block := &Block{
		Header:       header,
		Transactions: make([]*Transaction, 0, min(txCount, 1024)),
	}

	for i := uint64(0); i < txCount; i++ {
		tx, err := NewTransactionFromReader(r)
		if err != nil {
			return nil, errors.NewMalformedError("failed to read transaction %d", i, err)
		}

		block.Transactions = append(block.Transactions, tx)
	}

	return block, nil
}

func (b *Block) Hash() *chainhash.Hash {
	return b.Header.Hash()
}

func (b *Block) Bytes() []byte {
	buf := b.Header.Bytes()
	buf = append(buf, bt.VarInt(len(b.Transactions)).Bytes()...)

	for _, tx := range b.Transactions {
		buf = append(buf, tx.Bytes()...)
	}

	return buf
}

func (b *Block) SizeInBytes() int {
	return len(b.Bytes())
}

// CoinbaseTx returns the first transaction when it is a coinbase.
func (b *Block) CoinbaseTx() *Transaction {
	if len(b.Transactions) == 0 || !b.Transactions[0].IsCoinbase() {
		return nil
	}

	return b.Transactions[0]
}

func (b *Block) TxIDs() []chainhash.Hash {
	ids := make([]chainhash.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.TxID()
	}

	return ids
}

func (b *Block) CalculateMerkleRoot() chainhash.Hash {
	return BuildMerkleRoot(b.TxIDs())
}

func (b *Block) CheckMerkleRoot() error {
	calculated := b.CalculateMerkleRoot()

	if b.Header.HashMerkleRoot == nil || !calculated.IsEqual(b.Header.HashMerkleRoot) {
		return errors.NewBlockMerkleRootError("merkle root mismatch for block %s: header %s, calculated %s", b.Hash(), b.Header.HashMerkleRoot, &calculated)
	}

	return nil
}

func (b *Block) String() string {
	return fmt.Sprintf("%s (%d txs)", b.Hash(), len(b.Transactions))
}

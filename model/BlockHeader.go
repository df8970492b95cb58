package model

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
)

// BlockHeaderSize is the length of an encoded header.
const BlockHeaderSize = 80

type BlockHeader struct {
	// Hash of the previous block header in the blockchain.
	HashPrevBlock *chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	HashMerkleRoot *chainhash.Hash

	// Time the block was created in unix time.
	Timestamp uint32

	// Difficulty target for the block.
	Bits NBit

	// Nonce used to generate the block.
	Nonce uint64
}

func NewBlockHeaderFromBytes(headerBytes []byte) (*BlockHeader, error) {
	if len(headerBytes) != BlockHeaderSize {
		return nil, errors.NewMalformedError("block header should be %d bytes long, got %d", BlockHeaderSize, len(headerBytes))
	}

	hashPrevBlock, err := chainhash.NewHash(headerBytes[:32])
	if err != nil {
		return nil, errors.NewMalformedError("error creating previous block hash from bytes", err)
	}

	hashMerkleRoot, err := chainhash.NewHash(headerBytes[32:64])
	if err != nil {
		return nil, errors.NewMalformedError("error creating merkle root hash from bytes", err)
	}

	var bits NBit

	copy(bits[:], headerBytes[68:72])

	return &BlockHeader{
		HashPrevBlock:  hashPrevBlock,
		HashMerkleRoot: hashMerkleRoot,
		Timestamp:      binary.LittleEndian.Uint32(headerBytes[64:68]),
		Bits:           bits,
		Nonce:          binary.LittleEndian.Uint64(headerBytes[72:]),
	}, nil
}

func NewBlockHeaderFromReader(r io.Reader) (*BlockHeader, error) {
	var b [BlockHeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, errors.NewMalformedError("failed to read block header", err)
	}

	return NewBlockHeaderFromBytes(b[:])
}

func NewBlockHeaderFromString(headerHex string) (*BlockHeader, error) {
	headerBytes, err := hex.DecodeString(headerHex)
	if err != nil {
		return nil, errors.NewMalformedError("error decoding hex string to bytes", err)
	}

	return NewBlockHeaderFromBytes(headerBytes)
}

func (bh *BlockHeader) Hash() *chainhash.Hash {
	hash := chainhash.DoubleHashH(bh.Bytes())
	return &hash
}

// HasMetTargetDifficulty reports whether the header hash, read as a 256 bit number, is strictly below
// the target encoded in Bits.
func (bh *BlockHeader) HasMetTargetDifficulty() bool {
	target := bh.Bits.CalculateTarget()
	if target.Sign() <= 0 {
		return false
	}

	return HashToBig(bh.Hash()).Cmp(target) < 0
}

func (bh *BlockHeader) Time() time.Time {
	return time.Unix(int64(bh.Timestamp), 0)
}

func (bh *BlockHeader) Bytes() []byte {
	b := make([]byte, 0, BlockHeaderSize)

	b = append(b, hashBytes(bh.HashPrevBlock)...)
	b = append(b, hashBytes(bh.HashMerkleRoot)...)
	b = binary.LittleEndian.AppendUint32(b, bh.Timestamp)
	b = append(b, bh.Bits[:]...)
	b = binary.LittleEndian.AppendUint64(b, bh.Nonce)

	return b
}

func (bh *BlockHeader) String() string {
	return fmt.Sprintf("%s (prev %s, bits %s, time %d, nonce %d)", bh.Hash(), bh.HashPrevBlock, bh.Bits, bh.Timestamp, bh.Nonce)
}

// HashToBig reads a hash as the little endian 256 bit number it represents.
func HashToBig(hash *chainhash.Hash) *big.Int {
	var buf chainhash.Hash

	for i := 0; i < chainhash.HashSize; i++ {
		buf[i] = hash[chainhash.HashSize-1-i]
	}

	return new(big.Int).SetBytes(buf[:])
}

func hashBytes(h *chainhash.Hash) []byte {
	if h == nil {
		return make([]byte, chainhash.HashSize)
	}

	return h[:]
}

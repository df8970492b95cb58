package model

import (
	"encoding/hex"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var regtestBits = NewNBitFromUint32(0x207fffff)

func solve(t *testing.T, header *BlockHeader) {
	t.Helper()

	for header.Nonce = 0; header.Nonce < 1_000; header.Nonce++ {
		if header.HasMetTargetDifficulty() {
			return
		}
	}

	t.Fatal("no nonce found on regtest difficulty")
}

func TestBlockHeaderBytes(t *testing.T) {
	prev := chainhash.DoubleHashH([]byte("prev"))
	merkle := chainhash.DoubleHashH([]byte("merkle"))

	header := &BlockHeader{
		HashPrevBlock:  &prev,
		HashMerkleRoot: &merkle,
		Timestamp:      1_700_000_000,
		Bits:           regtestBits,
		Nonce:          0x0102030405060708,
	}

	b := header.Bytes()
	require.Len(t, b, BlockHeaderSize)

	decoded, err := NewBlockHeaderFromBytes(b)
	require.NoError(t, err)

	assert.Equal(t, header.Hash(), decoded.Hash())
	assert.Equal(t, prev, *decoded.HashPrevBlock)
	assert.Equal(t, header.Nonce, decoded.Nonce)
	assert.Equal(t, header.Bits, decoded.Bits)

	fromString, err := NewBlockHeaderFromString(hex.EncodeToString(b))
	require.NoError(t, err)
	assert.Equal(t, header.Hash(), fromString.Hash())
}

func TestBlockHeaderInvalidLength(t *testing.T) {
	_, err := NewBlockHeaderFromBytes(make([]byte, BlockHeaderSize-1))
	require.ErrorIs(t, err, errors.ErrMalformed)

	_, err = NewBlockHeaderFromString("zz")
	require.ErrorIs(t, err, errors.ErrMalformed)
}

func TestBlockHeaderNilHashes(t *testing.T) {
	header := &BlockHeader{Bits: regtestBits}

	decoded, err := NewBlockHeaderFromBytes(header.Bytes())
	require.NoError(t, err)

	assert.Equal(t, chainhash.Hash{}, *decoded.HashPrevBlock)
}

func TestHasMetTargetDifficulty(t *testing.T) {
	header := &BlockHeader{
		HashPrevBlock:  &chainhash.Hash{},
		HashMerkleRoot: &chainhash.Hash{},
		Timestamp:      1_700_000_000,
		Bits:           regtestBits,
	}

	solve(t, header)
	assert.True(t, header.HasMetTargetDifficulty())

	// the same header cannot meet a target of one
	header.Bits = NewNBitFromUint32(0x01010000)
	assert.False(t, header.HasMetTargetDifficulty())

	header.Bits = NBit{}
	assert.False(t, header.HasMetTargetDifficulty())
}

func TestHashToBig(t *testing.T) {
	var h chainhash.Hash
	h[0] = 0x01
	h[31] = 0x80

	n := HashToBig(&h)
	assert.Equal(t, 256, n.BitLen())
	assert.Equal(t, uint(1), n.Bit(0))
}

package model

import (
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/stretchr/testify/assert"
)

func hashPair(a, b chainhash.Hash) chainhash.Hash {
	return chainhash.DoubleHashH(append(a[:], b[:]...))
}

func TestBuildMerkleRoot(t *testing.T) {
	a := chainhash.DoubleHashH([]byte("a"))
	b := chainhash.DoubleHashH([]byte("b"))
	c := chainhash.DoubleHashH([]byte("c"))

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, chainhash.Hash{}, BuildMerkleRoot(nil))
	})

	t.Run("single", func(t *testing.T) {
		assert.Equal(t, a, BuildMerkleRoot([]chainhash.Hash{a}))
	})

	t.Run("pair", func(t *testing.T) {
		assert.Equal(t, hashPair(a, b), BuildMerkleRoot([]chainhash.Hash{a, b}))
	})

	t.Run("odd count duplicates the last node", func(t *testing.T) {
		expected := hashPair(hashPair(a, b), hashPair(c, c))
		assert.Equal(t, expected, BuildMerkleRoot([]chainhash.Hash{a, b, c}))
	})

	t.Run("input untouched", func(t *testing.T) {
		hashes := []chainhash.Hash{a, b, c}
		_ = BuildMerkleRoot(hashes)
		assert.Equal(t, []chainhash.Hash{a, b, c}, hashes)
	})
}

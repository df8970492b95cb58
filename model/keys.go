package model

import (
	"encoding/hex"
	"math/big"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/libsv/go-bk/bec"
	"github.com/libsv/go-bk/crypto"
)

// OwnerIDSize is the length of a Hash160 digest.
const OwnerIDSize = 20

// OwnerID addresses an output: the Hash160 of the owner's compressed public key.
type OwnerID [OwnerIDSize]byte

// NewOwnerID derives the owner identity from a serialised public key.
func NewOwnerID(publicKey []byte) OwnerID {
	var o OwnerID
	copy(o[:], crypto.Hash160(publicKey))

	return o
}

func NewOwnerIDFromString(s string) (OwnerID, error) {
	var o OwnerID

	b, err := hex.DecodeString(s)
	if err != nil {
		return o, errors.NewInvalidArgumentError("invalid owner id %q", s, err)
	}

	if len(b) != OwnerIDSize {
		return o, errors.NewInvalidArgumentError("owner id must be %d bytes, got %d", OwnerIDSize, len(b))
	}

	copy(o[:], b)

	return o, nil
}

// OwnerIDFromPrivateKey is the identity that key can spend for.
func OwnerIDFromPrivateKey(key *bec.PrivateKey) OwnerID {
	return NewOwnerID(key.PubKey().SerialiseCompressed())
}

func (o OwnerID) String() string {
	return hex.EncodeToString(o[:])
}

func NewPrivateKey() (*bec.PrivateKey, error) {
	key, err := bec.NewPrivateKey(bec.S256())
	if err != nil {
		return nil, errors.NewProcessingError("failed to generate private key", err)
	}

	return key, nil
}

// halfOrder is the largest S value of a canonical signature.
var halfOrder = new(big.Int).Rsh(bec.S256().Params().N, 1)

// VerifySignature checks a DER signature over digest against a serialised public key. Only the low S
// form is accepted: (R, N-S) verifies as well, and would give a transaction a second identity without
// the key.
func VerifySignature(publicKey, signature, digest []byte) bool {
	pub, err := bec.ParsePubKey(publicKey, bec.S256())
	if err != nil {
		return false
	}

	sig, err := bec.ParseDERSignature(signature, bec.S256())
	if err != nil {
		return false
	}

	if sig.S.Cmp(halfOrder) > 0 {
		return false
	}

	return sig.Verify(digest, pub)
}

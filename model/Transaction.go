package model

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/libsv/go-bk/bec"
)

// Decoding limits. Anything beyond them cannot be a valid object, so the bytes are treated as
// malformed before any allocation happens.
const (
	maxTxInputs     = 100_000
	maxTxOutputs    = 100_000
	maxSignatureLen = 80
	maxPublicKeyLen = 65

	// preallocLimit bounds the capacity reserved from a count read off the wire
	preallocLimit = 64
)

// Outpoint identifies an output of a prior transaction.
type Outpoint struct {
	TxID  chainhash.Hash
	Index uint32
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID.String(), o.Index)
}

type Input struct {
	PreviousTxID  chainhash.Hash
	PreviousIndex uint32
	Signature     []byte
	PublicKey     []byte
}

func (in *Input) Outpoint() Outpoint {
	return Outpoint{TxID: in.PreviousTxID, Index: in.PreviousIndex}
}

type Output struct {
	Value uint64
	Owner OwnerID
}

// Transaction moves value from the outputs referenced by its inputs to its own outputs. A coinbase
// has no inputs, a single output and commits to the height of the block that contains it.
type Transaction struct {
	Inputs  []*Input
	Outputs []*Output
	Height  uint32
}

// NewCoinbaseTransaction pays value to owner at the given block height.
func NewCoinbaseTransaction(height uint32, value uint64, owner OwnerID) *Transaction {
	return &Transaction{
		Outputs: []*Output{{Value: value, Owner: owner}},
		Height:  height,
	}
}

func NewTransactionFromBytes(b []byte) (*Transaction, error) {
	r := bytes.NewReader(b)

	tx, err := NewTransactionFromReader(r)
	if err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, errors.NewMalformedError("%d trailing bytes after transaction", r.Len())
	}

	return tx, nil
}

func NewTransactionFromString(s string) (*Transaction, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.NewMalformedError("invalid transaction hex", err)
	}

	return NewTransactionFromBytes(b)
}

func NewTransactionFromReader(r io.Reader) (*Transaction, error) {
	inputCount, err := readCount(r, maxTxInputs, "input count")
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Inputs: make([]*Input, 0, min(inputCount, preallocLimit)),
	}

	for i := uint64(0); i < inputCount; i++ {
		in := &Input{}

		if _, err = io.ReadFull(r, in.PreviousTxID[:]); err != nil {
			return nil, errors.NewMalformedError("failed to read input %d txid", i, err)
		}

		if in.PreviousIndex, err = readUint32(r); err != nil {
			return nil, errors.NewMalformedError("failed to read input %d index", i, err)
		}

		if in.Signature, err = readBytes(r, maxSignatureLen, "signature"); err != nil {
			return nil, err
		}

		if in.PublicKey, err = readBytes(r, maxPublicKeyLen, "public key"); err != nil {
			return nil, err
		}

		tx.Inputs = append(tx.Inputs, in)
	}

	outputCount, err := readCount(r, maxTxOutputs, "output count")
	if err != nil {
		return nil, err
	}

	tx.Outputs = make([]*Output, 0, min(outputCount, preallocLimit))

	for i := uint64(0); i < outputCount; i++ {
		out := &Output{}

		var value [8]byte
		if _, err = io.ReadFull(r, value[:]); err != nil {
			return nil, errors.NewMalformedError("failed to read output %d value", i, err)
		}

		out.Value = binary.LittleEndian.Uint64(value[:])

		if _, err = io.ReadFull(r, out.Owner[:]); err != nil {
			return nil, errors.NewMalformedError("failed to read output %d owner", i, err)
		}

		tx.Outputs = append(tx.Outputs, out)
	}

	if tx.Height, err = readUint32(r); err != nil {
		return nil, errors.NewMalformedError("failed to read height", err)
	}

	return tx, nil
}

// Bytes returns the canonical encoding used for hashing, signing, the wire and storage.
func (tx *Transaction) Bytes() []byte {
	return tx.encode(true)
}

func (tx *Transaction) encode(withSignatures bool) []byte {
	buf := make([]byte, 0, tx.estimateSize())

	buf = append(buf, bt.VarInt(len(tx.Inputs)).Bytes()...)

	for _, in := range tx.Inputs {
		buf = append(buf, in.PreviousTxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PreviousIndex)

		if withSignatures {
			buf = append(buf, bt.VarInt(len(in.Signature)).Bytes()...)
			buf = append(buf, in.Signature...)
		} else {
			buf = append(buf, 0)
		}

		buf = append(buf, bt.VarInt(len(in.PublicKey)).Bytes()...)
		buf = append(buf, in.PublicKey...)
	}

	buf = append(buf, bt.VarInt(len(tx.Outputs)).Bytes()...)

	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, out.Owner[:]...)
	}

	return binary.LittleEndian.AppendUint32(buf, tx.Height)
}

func (tx *Transaction) estimateSize() int {
	return 9 + len(tx.Inputs)*(32+4+1+72+1+33) + 9 + len(tx.Outputs)*(8+OwnerIDSize) + 4
}

// TxID is the double sha256 of the canonical encoding.
func (tx *Transaction) TxID() chainhash.Hash {
	return chainhash.DoubleHashH(tx.Bytes())
}

func (tx *Transaction) TxIDChainHash() *chainhash.Hash {
	h := tx.TxID()
	return &h
}

// SigHash is the digest every input signs: the encoding with all signatures left empty.
func (tx *Transaction) SigHash() chainhash.Hash {
	return chainhash.DoubleHashH(tx.encode(false))
}

func (tx *Transaction) Size() int {
	return len(tx.Bytes())
}

func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 0
}

// TotalOutputValue sums the outputs, reporting false on overflow.
func (tx *Transaction) TotalOutputValue() (uint64, bool) {
	var total uint64

	for _, out := range tx.Outputs {
		if total+out.Value < total {
			return 0, false
		}

		total += out.Value
	}

	return total, true
}

// Sign sets the public key of every input and signs the transaction. keys holds either one key used
// for all inputs or one key per input.
func (tx *Transaction) Sign(keys ...*bec.PrivateKey) error {
	if len(keys) == 0 || (len(keys) != 1 && len(keys) != len(tx.Inputs)) {
		return errors.NewInvalidArgumentError("need 1 or %d keys, got %d", len(tx.Inputs), len(keys))
	}

	keyFor := func(i int) *bec.PrivateKey {
		if len(keys) == 1 {
			return keys[0]
		}

		return keys[i]
	}

	for i, in := range tx.Inputs {
		in.PublicKey = keyFor(i).PubKey().SerialiseCompressed()
	}

	digest := tx.SigHash()

	for i, in := range tx.Inputs {
		sig, err := keyFor(i).Sign(digest[:])
		if err != nil {
			return errors.NewProcessingError("failed to sign input %d", i, err)
		}

		in.Signature = sig.Serialise()
	}

	return nil
}

// VerifyInputSignature checks input i's signature over SigHash with the key it carries. The caller is
// responsible for matching that key against the owner of the spent output.
func (tx *Transaction) VerifyInputSignature(i int) bool {
	if i < 0 || i >= len(tx.Inputs) {
		return false
	}

	digest := tx.SigHash()

	return VerifySignature(tx.Inputs[i].PublicKey, tx.Inputs[i].Signature, digest[:])
}

func (tx *Transaction) String() string {
	return tx.TxID().String()
}

func readCount(r io.Reader, limit uint64, what string) (uint64, error) {
	var vi bt.VarInt

	n, err := vi.ReadFrom(r)
	if err != nil {
		return 0, errors.NewMalformedError("failed to read %s", what, err)
	}

	// only the shortest encoding is canonical
	if int(n) != len(vi.Bytes()) {
		return 0, errors.NewMalformedError("non canonical %s", what)
	}

	if uint64(vi) > limit {
		return 0, errors.NewMalformedError("%s %d exceeds %d", what, uint64(vi), limit)
	}

	return uint64(vi), nil
}

func readBytes(r io.Reader, limit uint64, what string) ([]byte, error) {
	n, err := readCount(r, limit, what+" length")
	if err != nil {
		return nil, err
	}

	if n == 0 {
		return nil, nil
	}

	b := make([]byte, n)
	if _, err = io.ReadFull(r, b); err != nil {
		return nil, errors.NewMalformedError("failed to read %s", what, err)
	}

	return b, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(b[:]), nil
}

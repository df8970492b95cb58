package file

import (
	"bytes"

	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/fxamacker/cbor/v2"
)

const snapshotVersion = 1

// Snapshot is the persisted form of a canonical chain. Blocks hold the canonical encoding of every
// block after genesis, in height order.
type Snapshot struct {
	Version uint64   `cbor:"version"`
	Network uint32   `cbor:"network"`
	Genesis []byte   `cbor:"genesis"`
	Blocks  [][]byte `cbor:"blocks"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// core deterministic encoding: the same snapshot always has the same bytes
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}

	if decMode, err = (cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}).DecMode(); err != nil {
		panic(err)
	}
}

// NewSnapshot captures blocks as a snapshot of the network described by params.
func NewSnapshot(params *chaincfg.Params, blocks []*model.Block) *Snapshot {
	s := &Snapshot{
		Version: snapshotVersion,
		Network: uint32(params.Net),
		Genesis: params.GenesisHash.CloneBytes(),
		Blocks:  make([][]byte, 0, len(blocks)),
	}

	for _, block := range blocks {
		s.Blocks = append(s.Blocks, block.Bytes())
	}

	return s
}

func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	b, err := encMode.Marshal(s)
	if err != nil {
		return nil, errors.NewStorageError("failed to encode snapshot", err)
	}

	return b, nil
}

func DecodeSnapshot(b []byte) (*Snapshot, error) {
	var s Snapshot

	if err := decMode.Unmarshal(b, &s); err != nil {
		return nil, errors.NewStorageError("failed to decode snapshot", err)
	}

	return &s, nil
}

// DecodeBlocks checks that the snapshot belongs to the network described by params and decodes its blocks.
func (s *Snapshot) DecodeBlocks(params *chaincfg.Params) ([]*model.Block, error) {
	if s.Version != snapshotVersion {
		return nil, errors.NewStorageError("unsupported snapshot version %d", s.Version)
	}

	if s.Network != uint32(params.Net) {
		return nil, errors.NewStorageError("snapshot is for network %#x, not %s", s.Network, params.Name)
	}

	if !bytes.Equal(s.Genesis, params.GenesisHash.CloneBytes()) {
		return nil, errors.NewStorageError("snapshot genesis does not match %s", params.Name)
	}

	blocks := make([]*model.Block, 0, len(s.Blocks))

	for i, b := range s.Blocks {
		block, err := model.NewBlockFromBytes(b)
		if err != nil {
			return nil, errors.NewStorageError("snapshot block at height %d", i+1, err)
		}

		blocks = append(blocks, block)
	}

	return blocks, nil
}

// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
)

const (
	// MaxBlocksPerMsg is the maximum number of block hashes a getblocks
	// reply carries.
	MaxBlocksPerMsg = 500

	// MaxBlockHeadersPerMsg is the maximum number of headers in a headers
	// message.
	MaxBlockHeadersPerMsg = 2000

	// MaxBlockLocatorsPerMsg is the maximum number of block locator hashes
	// allowed per message.
	MaxBlockLocatorsPerMsg = 500
)

// MsgBlock carries a block in its canonical encoding.
type MsgBlock struct {
	Block *model.Block
}

func NewMsgBlock(block *model.Block) *MsgBlock {
	return &MsgBlock{Block: block}
}

func (msg *MsgBlock) Decode(r io.Reader) (err error) {
	msg.Block, err = model.NewBlockFromReader(r)
	return err
}

func (msg *MsgBlock) Encode(w io.Writer) error {
	if msg.Block == nil {
		return errors.NewInvalidArgumentError("block message without block")
	}

	_, err := w.Write(msg.Block.Bytes())

	return err
}

func (msg *MsgBlock) Kind() Kind {
	return KindBlock
}

func (msg *MsgBlock) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}

// MsgTx carries a transaction in its canonical encoding.
type MsgTx struct {
	Tx *model.Transaction
}

func NewMsgTx(tx *model.Transaction) *MsgTx {
	return &MsgTx{Tx: tx}
}

func (msg *MsgTx) Decode(r io.Reader) (err error) {
	msg.Tx, err = model.NewTransactionFromReader(r)
	return err
}

func (msg *MsgTx) Encode(w io.Writer) error {
	if msg.Tx == nil {
		return errors.NewInvalidArgumentError("tx message without transaction")
	}

	_, err := w.Write(msg.Tx.Bytes())

	return err
}

func (msg *MsgTx) Kind() Kind {
	return KindTx
}

func (msg *MsgTx) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}

func readLocator(r io.Reader) ([]chainhash.Hash, chainhash.Hash, error) {
	var stop chainhash.Hash

	count, err := readCount(r, MaxBlockLocatorsPerMsg, "locator hashes")
	if err != nil {
		return nil, stop, err
	}

	locator := make([]chainhash.Hash, count)
	for i := range locator {
		if err = readHash(r, &locator[i]); err != nil {
			return nil, stop, err
		}
	}

	err = readHash(r, &stop)

	return locator, stop, err
}

func writeLocator(w io.Writer, locator []chainhash.Hash, stop *chainhash.Hash) error {
	if len(locator) > MaxBlockLocatorsPerMsg {
		return errors.NewMalformedError("too many block locator hashes for message [count %d, max %d]", len(locator), MaxBlockLocatorsPerMsg)
	}

	if err := writeCount(w, len(locator)); err != nil {
		return err
	}

	for i := range locator {
		if err := writeHash(w, &locator[i]); err != nil {
			return err
		}
	}

	return writeHash(w, stop)
}

// MsgGetBlocks asks for an inv of the block hashes following the first
// locator entry on the remote canonical chain, up to HashStop or
// MaxBlocksPerMsg. A zero HashStop means no stop.
type MsgGetBlocks struct {
	BlockLocatorHashes []chainhash.Hash
	HashStop           chainhash.Hash
}

func NewMsgGetBlocks(locator []chainhash.Hash, hashStop *chainhash.Hash) *MsgGetBlocks {
	msg := &MsgGetBlocks{BlockLocatorHashes: locator}
	if hashStop != nil {
		msg.HashStop = *hashStop
	}

	return msg
}

func (msg *MsgGetBlocks) Decode(r io.Reader) (err error) {
	msg.BlockLocatorHashes, msg.HashStop, err = readLocator(r)
	return err
}

func (msg *MsgGetBlocks) Encode(w io.Writer) error {
	return writeLocator(w, msg.BlockLocatorHashes, &msg.HashStop)
}

func (msg *MsgGetBlocks) Kind() Kind {
	return KindGetBlocks
}

func (msg *MsgGetBlocks) MaxPayloadLength() uint32 {
	return 3 + (MaxBlockLocatorsPerMsg+1)*chainhash.HashSize
}

// MsgGetHeaders is MsgGetBlocks answered with headers instead of an inv.
type MsgGetHeaders struct {
	BlockLocatorHashes []chainhash.Hash
	HashStop           chainhash.Hash
}

func NewMsgGetHeaders(locator []chainhash.Hash, hashStop *chainhash.Hash) *MsgGetHeaders {
	msg := &MsgGetHeaders{BlockLocatorHashes: locator}
	if hashStop != nil {
		msg.HashStop = *hashStop
	}

	return msg
}

func (msg *MsgGetHeaders) Decode(r io.Reader) (err error) {
	msg.BlockLocatorHashes, msg.HashStop, err = readLocator(r)
	return err
}

func (msg *MsgGetHeaders) Encode(w io.Writer) error {
	return writeLocator(w, msg.BlockLocatorHashes, &msg.HashStop)
}

func (msg *MsgGetHeaders) Kind() Kind {
	return KindGetHeaders
}

func (msg *MsgGetHeaders) MaxPayloadLength() uint32 {
	return 3 + (MaxBlockLocatorsPerMsg+1)*chainhash.HashSize
}

// MsgHeaders answers a getheaders.
type MsgHeaders struct {
	Headers []*model.BlockHeader
}

func (msg *MsgHeaders) Decode(r io.Reader) error {
	count, err := readCount(r, MaxBlockHeadersPerMsg, "block headers")
	if err != nil {
		return err
	}

	msg.Headers = make([]*model.BlockHeader, 0, count)

	for i := uint64(0); i < count; i++ {
		header, err := model.NewBlockHeaderFromReader(r)
		if err != nil {
			return err
		}

		msg.Headers = append(msg.Headers, header)
	}

	return nil
}

func (msg *MsgHeaders) Encode(w io.Writer) error {
	if len(msg.Headers) > MaxBlockHeadersPerMsg {
		return errors.NewMalformedError("too many block headers in message [count %d, max %d]", len(msg.Headers), MaxBlockHeadersPerMsg)
	}

	if err := writeCount(w, len(msg.Headers)); err != nil {
		return err
	}

	for _, header := range msg.Headers {
		if _, err := w.Write(header.Bytes()); err != nil {
			return err
		}
	}

	return nil
}

func (msg *MsgHeaders) Kind() Kind {
	return KindHeaders
}

func (msg *MsgHeaders) MaxPayloadLength() uint32 {
	return 3 + MaxBlockHeadersPerMsg*model.BlockHeaderSize
}

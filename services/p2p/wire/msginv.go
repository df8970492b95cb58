// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"fmt"
	"io"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
)

const (
	// MaxInvPerMsg is the maximum number of inventory vectors that can be in
	// a single inv, getdata or notfound message.
	MaxInvPerMsg = 50000

	// maxInvVectPayload is the maximum payload size for an inventory vector:
	// type 1 byte + hash 32 bytes.
	maxInvVectPayload = 1 + chainhash.HashSize
)

// InvType represents the allowed types of inventory vectors.
type InvType uint8

const (
	InvTypeTx    InvType = 1
	InvTypeBlock InvType = 2
)

func (t InvType) String() string {
	switch t {
	case InvTypeTx:
		return "tx"
	case InvTypeBlock:
		return "block"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// InvVect announces or requests a block or transaction by hash.
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

func NewInvVect(typ InvType, hash *chainhash.Hash) *InvVect {
	return &InvVect{Type: typ, Hash: *hash}
}

func (iv *InvVect) String() string {
	return fmt.Sprintf("%s %s", iv.Type, iv.Hash)
}

func readInvList(r io.Reader) ([]*InvVect, error) {
	count, err := readCount(r, MaxInvPerMsg, "inventory vectors")
	if err != nil {
		return nil, err
	}

	invList := make([]*InvVect, 0, count)

	for i := uint64(0); i < count; i++ {
		var typ [1]byte
		if _, err = io.ReadFull(r, typ[:]); err != nil {
			return nil, err
		}

		iv := &InvVect{Type: InvType(typ[0])}
		if iv.Type != InvTypeTx && iv.Type != InvTypeBlock {
			return nil, errors.NewMalformedError("unknown inventory type %d", typ[0])
		}

		if err = readHash(r, &iv.Hash); err != nil {
			return nil, err
		}

		invList = append(invList, iv)
	}

	return invList, nil
}

func writeInvList(w io.Writer, invList []*InvVect) error {
	if len(invList) > MaxInvPerMsg {
		return errors.NewMalformedError("too many inventory vectors - %d, max %d", len(invList), MaxInvPerMsg)
	}

	if err := writeCount(w, len(invList)); err != nil {
		return err
	}

	for _, iv := range invList {
		if _, err := w.Write([]byte{byte(iv.Type)}); err != nil {
			return err
		}

		if err := writeHash(w, &iv.Hash); err != nil {
			return err
		}
	}

	return nil
}

func addInvVect(invList []*InvVect, iv *InvVect) ([]*InvVect, error) {
	if len(invList)+1 > MaxInvPerMsg {
		return invList, errors.NewThresholdExceededError("too many invvect in message [max %d]", MaxInvPerMsg)
	}

	return append(invList, iv), nil
}

// MsgInv announces blocks and transactions the sender has.
type MsgInv struct {
	InvList []*InvVect
}

func NewMsgInv() *MsgInv {
	return &MsgInv{InvList: make([]*InvVect, 0, 8)}
}

func (msg *MsgInv) AddInvVect(iv *InvVect) (err error) {
	msg.InvList, err = addInvVect(msg.InvList, iv)
	return err
}

func (msg *MsgInv) Decode(r io.Reader) (err error) {
	msg.InvList, err = readInvList(r)
	return err
}

func (msg *MsgInv) Encode(w io.Writer) error {
	return writeInvList(w, msg.InvList)
}

func (msg *MsgInv) Kind() Kind {
	return KindInv
}

func (msg *MsgInv) MaxPayloadLength() uint32 {
	return 9 + MaxInvPerMsg*maxInvVectPayload
}

// MsgGetData requests the full objects named by the inventory vectors.
type MsgGetData struct {
	InvList []*InvVect
}

func NewMsgGetData() *MsgGetData {
	return &MsgGetData{InvList: make([]*InvVect, 0, 8)}
}

func (msg *MsgGetData) AddInvVect(iv *InvVect) (err error) {
	msg.InvList, err = addInvVect(msg.InvList, iv)
	return err
}

func (msg *MsgGetData) Decode(r io.Reader) (err error) {
	msg.InvList, err = readInvList(r)
	return err
}

func (msg *MsgGetData) Encode(w io.Writer) error {
	return writeInvList(w, msg.InvList)
}

func (msg *MsgGetData) Kind() Kind {
	return KindGetData
}

func (msg *MsgGetData) MaxPayloadLength() uint32 {
	return 9 + MaxInvPerMsg*maxInvVectPayload
}

// MsgNotFound answers a getdata for objects the sender does not have.
type MsgNotFound struct {
	InvList []*InvVect
}

func NewMsgNotFound() *MsgNotFound {
	return &MsgNotFound{InvList: make([]*InvVect, 0, 8)}
}

func (msg *MsgNotFound) AddInvVect(iv *InvVect) (err error) {
	msg.InvList, err = addInvVect(msg.InvList, iv)
	return err
}

func (msg *MsgNotFound) Decode(r io.Reader) (err error) {
	msg.InvList, err = readInvList(r)
	return err
}

func (msg *MsgNotFound) Encode(w io.Writer) error {
	return writeInvList(w, msg.InvList)
}

func (msg *MsgNotFound) Kind() Kind {
	return KindNotFound
}

func (msg *MsgNotFound) MaxPayloadLength() uint32 {
	return 9 + MaxInvPerMsg*maxInvVectPayload
}

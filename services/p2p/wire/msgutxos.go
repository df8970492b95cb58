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
	// MaxUtxosPerMsg bounds a utxos reply; owners with more unspent outputs
	// get the first MaxUtxosPerMsg.
	MaxUtxosPerMsg = 20000

	// utxoPayload is txid 32 + index 4 + value 8 + height 4 + coinbase 1.
	utxoPayload = chainhash.HashSize + 17
)

// MsgGetUtxos asks for the canonical unspent outputs paying Owner.
type MsgGetUtxos struct {
	Owner model.OwnerID
}

func (msg *MsgGetUtxos) Decode(r io.Reader) error {
	_, err := io.ReadFull(r, msg.Owner[:])
	return err
}

func (msg *MsgGetUtxos) Encode(w io.Writer) error {
	_, err := w.Write(msg.Owner[:])
	return err
}

func (msg *MsgGetUtxos) Kind() Kind {
	return KindGetUtxos
}

func (msg *MsgGetUtxos) MaxPayloadLength() uint32 {
	return model.OwnerIDSize
}

type Utxo struct {
	TxID     chainhash.Hash
	Index    uint32
	Value    uint64
	Height   uint32
	Coinbase bool
}

// MsgUtxos answers a getutxos.
type MsgUtxos struct {
	Owner model.OwnerID
	Utxos []Utxo
}

func (msg *MsgUtxos) Decode(r io.Reader) error {
	if _, err := io.ReadFull(r, msg.Owner[:]); err != nil {
		return err
	}

	count, err := readCount(r, MaxUtxosPerMsg, "utxos")
	if err != nil {
		return err
	}

	msg.Utxos = make([]Utxo, count)

	for i := range msg.Utxos {
		u := &msg.Utxos[i]

		if err = readHash(r, &u.TxID); err != nil {
			return err
		}

		if u.Index, err = readUint32(r); err != nil {
			return err
		}

		if u.Value, err = readUint64(r); err != nil {
			return err
		}

		if u.Height, err = readUint32(r); err != nil {
			return err
		}

		var flag [1]byte
		if _, err = io.ReadFull(r, flag[:]); err != nil {
			return err
		}

		switch flag[0] {
		case 0:
		case 1:
			u.Coinbase = true
		default:
			return errors.NewMalformedError("invalid coinbase flag %d", flag[0])
		}
	}

	return nil
}

func (msg *MsgUtxos) Encode(w io.Writer) error {
	if len(msg.Utxos) > MaxUtxosPerMsg {
		return errors.NewMalformedError("too many utxos for message [count %d, max %d]", len(msg.Utxos), MaxUtxosPerMsg)
	}

	if _, err := w.Write(msg.Owner[:]); err != nil {
		return err
	}

	if err := writeCount(w, len(msg.Utxos)); err != nil {
		return err
	}

	for i := range msg.Utxos {
		u := &msg.Utxos[i]

		if err := writeHash(w, &u.TxID); err != nil {
			return err
		}

		if err := writeUint32(w, u.Index); err != nil {
			return err
		}

		if err := writeUint64(w, u.Value); err != nil {
			return err
		}

		if err := writeUint32(w, u.Height); err != nil {
			return err
		}

		var flag byte
		if u.Coinbase {
			flag = 1
		}

		if _, err := w.Write([]byte{flag}); err != nil {
			return err
		}
	}

	return nil
}

func (msg *MsgUtxos) Kind() Kind {
	return KindUtxos
}

func (msg *MsgUtxos) MaxPayloadLength() uint32 {
	return model.OwnerIDSize + 5 + MaxUtxosPerMsg*utxoPayload
}

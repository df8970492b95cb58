// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
)

const (
	// MaxAddrPerMsg is the maximum number of addresses in a single addr
	// message.
	MaxAddrPerMsg = 1000

	// MaxAddrLen bounds a single "host:port" entry.
	MaxAddrLen = 256

	// MaxRejectReasonLen bounds the free text of a reject message.
	MaxRejectReasonLen = 1024
)

// MsgAddr lists listen addresses as "host:port" strings.
type MsgAddr struct {
	AddrList []string
}

func (msg *MsgAddr) Decode(r io.Reader) error {
	count, err := readCount(r, MaxAddrPerMsg, "addresses")
	if err != nil {
		return err
	}

	msg.AddrList = make([]string, 0, count)

	for i := uint64(0); i < count; i++ {
		addr, err := readString(r, MaxAddrLen, "address")
		if err != nil {
			return err
		}

		msg.AddrList = append(msg.AddrList, addr)
	}

	return nil
}

func (msg *MsgAddr) Encode(w io.Writer) error {
	if len(msg.AddrList) > MaxAddrPerMsg {
		return errors.NewMalformedError("too many addresses for message [count %d, max %d]", len(msg.AddrList), MaxAddrPerMsg)
	}

	if err := writeCount(w, len(msg.AddrList)); err != nil {
		return err
	}

	for _, addr := range msg.AddrList {
		if len(addr) > MaxAddrLen {
			return errors.NewMalformedError("address %q too long", addr)
		}

		if err := writeString(w, addr); err != nil {
			return err
		}
	}

	return nil
}

func (msg *MsgAddr) Kind() Kind {
	return KindAddr
}

func (msg *MsgAddr) MaxPayloadLength() uint32 {
	return 3 + MaxAddrPerMsg*(3+MaxAddrLen)
}

// MsgReject tells the remote why a message it sent was refused. Code is the
// error code the validation failed with.
type MsgReject struct {
	RejectedKind Kind
	Code         errors.ERR
	Reason       string
	// Hash names the rejected block or transaction, zero otherwise.
	Hash chainhash.Hash
}

func NewMsgReject(kind Kind, code errors.ERR, reason string, hash *chainhash.Hash) *MsgReject {
	if len(reason) > MaxRejectReasonLen {
		reason = reason[:MaxRejectReasonLen]
	}

	msg := &MsgReject{RejectedKind: kind, Code: code, Reason: reason}
	if hash != nil {
		msg.Hash = *hash
	}

	return msg
}

func (msg *MsgReject) Decode(r io.Reader) (err error) {
	var kind [1]byte
	if _, err = io.ReadFull(r, kind[:]); err != nil {
		return err
	}

	msg.RejectedKind = Kind(kind[0])

	code, err := readUint32(r)
	if err != nil {
		return err
	}

	msg.Code = errors.ERR(code)

	if msg.Reason, err = readString(r, MaxRejectReasonLen, "reject reason"); err != nil {
		return err
	}

	return readHash(r, &msg.Hash)
}

func (msg *MsgReject) Encode(w io.Writer) error {
	if _, err := w.Write([]byte{byte(msg.RejectedKind)}); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(msg.Code)); err != nil {
		return err
	}

	if err := writeString(w, msg.Reason); err != nil {
		return err
	}

	return writeHash(w, &msg.Hash)
}

func (msg *MsgReject) Kind() Kind {
	return KindReject
}

func (msg *MsgReject) MaxPayloadLength() uint32 {
	return 1 + 4 + 3 + MaxRejectReasonLen + chainhash.HashSize
}

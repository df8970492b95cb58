// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
)

// MaxUserAgentLen is the maximum allowed length for the user agent field in a
// version message.
const MaxUserAgentLen = 256

// MsgVersion opens the handshake. Each side sends one and waits for the
// other's version and verack before any other message is accepted.
type MsgVersion struct {
	ProtocolVersion uint32
	// Network is the magic of the chain the sender runs.
	Network    uint32
	BestHeight uint32
	// Nonce is random per process and detects connections to self.
	Nonce     uint64
	UserAgent string
	// ListenPort is the port the sender accepts connections on, 0 if none.
	ListenPort uint16
}

func NewMsgVersion(network uint32, bestHeight uint32, nonce uint64, userAgent string, listenPort uint16) *MsgVersion {
	return &MsgVersion{
		ProtocolVersion: ProtocolVersion,
		Network:         network,
		BestHeight:      bestHeight,
		Nonce:           nonce,
		UserAgent:       userAgent,
		ListenPort:      listenPort,
	}
}

func (msg *MsgVersion) Decode(r io.Reader) (err error) {
	if msg.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}

	if msg.Network, err = readUint32(r); err != nil {
		return err
	}

	if msg.BestHeight, err = readUint32(r); err != nil {
		return err
	}

	if msg.Nonce, err = readUint64(r); err != nil {
		return err
	}

	if msg.UserAgent, err = readString(r, MaxUserAgentLen, "user agent"); err != nil {
		return err
	}

	msg.ListenPort, err = readUint16(r)

	return err
}

func (msg *MsgVersion) Encode(w io.Writer) error {
	if err := writeUint32(w, msg.ProtocolVersion); err != nil {
		return err
	}

	if err := writeUint32(w, msg.Network); err != nil {
		return err
	}

	if err := writeUint32(w, msg.BestHeight); err != nil {
		return err
	}

	if err := writeUint64(w, msg.Nonce); err != nil {
		return err
	}

	if err := writeString(w, msg.UserAgent); err != nil {
		return err
	}

	return writeUint16(w, msg.ListenPort)
}

func (msg *MsgVersion) Kind() Kind {
	return KindVersion
}

func (msg *MsgVersion) MaxPayloadLength() uint32 {
	// protocol 4 + network 4 + height 4 + nonce 8 + varint 3 + agent + port 2
	return 25 + MaxUserAgentLen
}

// MsgVerAck acknowledges a version message.
type MsgVerAck struct{}

func (msg *MsgVerAck) Decode(io.Reader) error { return nil }
func (msg *MsgVerAck) Encode(io.Writer) error { return nil }
func (msg *MsgVerAck) Kind() Kind             { return KindVerAck }
func (msg *MsgVerAck) MaxPayloadLength() uint32 {
	return 0
}

// MsgGetAddr asks for the listen addresses the remote node knows.
type MsgGetAddr struct{}

func (msg *MsgGetAddr) Decode(io.Reader) error { return nil }
func (msg *MsgGetAddr) Encode(io.Writer) error { return nil }
func (msg *MsgGetAddr) Kind() Kind             { return KindGetAddr }
func (msg *MsgGetAddr) MaxPayloadLength() uint32 {
	return 0
}

// MsgPing is the keep-alive probe. The remote answers with a MsgPong
// carrying the same nonce.
type MsgPing struct {
	Nonce uint64
}

func NewMsgPing(nonce uint64) *MsgPing {
	return &MsgPing{Nonce: nonce}
}

func (msg *MsgPing) Decode(r io.Reader) (err error) {
	msg.Nonce, err = readUint64(r)
	return err
}

func (msg *MsgPing) Encode(w io.Writer) error {
	return writeUint64(w, msg.Nonce)
}

func (msg *MsgPing) Kind() Kind {
	return KindPing
}

func (msg *MsgPing) MaxPayloadLength() uint32 {
	return 8
}

type MsgPong struct {
	Nonce uint64
}

func NewMsgPong(nonce uint64) *MsgPong {
	return &MsgPong{Nonce: nonce}
}

func (msg *MsgPong) Decode(r io.Reader) (err error) {
	msg.Nonce, err = readUint64(r)
	return err
}

func (msg *MsgPong) Encode(w io.Writer) error {
	return writeUint64(w, msg.Nonce)
}

func (msg *MsgPong) Kind() Kind {
	return KindPong
}

func (msg *MsgPong) MaxPayloadLength() uint32 {
	return 8
}

// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
)

const (
	// MessageHeaderSize is the number of bytes in a message header:
	// magic 4 bytes + kind 1 byte + payload length 4 bytes + checksum 4 bytes.
	MessageHeaderSize = 13

	// MaxMessagePayload is the maximum bytes a message can be regardless of
	// other individual limits imposed by messages themselves.
	MaxMessagePayload = 2 * 1024 * 1024

	// ProtocolVersion is the latest protocol version this package supports.
	ProtocolVersion uint32 = 1
)

// Kind identifies the type of a message on the wire.
type Kind uint8

const (
	KindVersion Kind = iota + 1
	KindVerAck
	KindPing
	KindPong
	KindInv
	KindGetData
	KindNotFound
	KindBlock
	KindTx
	KindGetBlocks
	KindGetHeaders
	KindHeaders
	KindGetAddr
	KindAddr
	KindReject
	KindGetUtxos
	KindUtxos
)

var kindStrings = map[Kind]string{
	KindVersion:    "version",
	KindVerAck:     "verack",
	KindPing:       "ping",
	KindPong:       "pong",
	KindInv:        "inv",
	KindGetData:    "getdata",
	KindNotFound:   "notfound",
	KindBlock:      "block",
	KindTx:         "tx",
	KindGetBlocks:  "getblocks",
	KindGetHeaders: "getheaders",
	KindHeaders:    "headers",
	KindGetAddr:    "getaddr",
	KindAddr:       "addr",
	KindReject:     "reject",
	KindGetUtxos:   "getutxos",
	KindUtxos:      "utxos",
}

func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}

	return "unknown"
}

// Message is implemented by every message kind. Decode is handed a reader
// over exactly the payload bytes.
type Message interface {
	Decode(r io.Reader) error
	Encode(w io.Writer) error
	Kind() Kind
	MaxPayloadLength() uint32
}

// makeEmptyMessage creates a message of the appropriate concrete type based
// on the kind.
func makeEmptyMessage(kind Kind) (Message, error) {
	var msg Message

	switch kind {
	case KindVersion:
		msg = &MsgVersion{}
	case KindVerAck:
		msg = &MsgVerAck{}
	case KindPing:
		msg = &MsgPing{}
	case KindPong:
		msg = &MsgPong{}
	case KindInv:
		msg = &MsgInv{}
	case KindGetData:
		msg = &MsgGetData{}
	case KindNotFound:
		msg = &MsgNotFound{}
	case KindBlock:
		msg = &MsgBlock{}
	case KindTx:
		msg = &MsgTx{}
	case KindGetBlocks:
		msg = &MsgGetBlocks{}
	case KindGetHeaders:
		msg = &MsgGetHeaders{}
	case KindHeaders:
		msg = &MsgHeaders{}
	case KindGetAddr:
		msg = &MsgGetAddr{}
	case KindAddr:
		msg = &MsgAddr{}
	case KindReject:
		msg = &MsgReject{}
	case KindGetUtxos:
		msg = &MsgGetUtxos{}
	case KindUtxos:
		msg = &MsgUtxos{}
	default:
		return nil, errors.NewMalformedError("unhandled message kind %d", uint8(kind))
	}

	return msg, nil
}

// checksum is the first four bytes of the double sha256 of the payload.
func checksum(payload []byte) [4]byte {
	var sum [4]byte
	copy(sum[:], chainhash.DoubleHashB(payload))

	return sum
}

// WriteMessage writes a framed message to w. The frame is assembled in full
// before writing so a failed encode never leaves partial bytes on the wire.
// It returns the number of bytes written.
func WriteMessage(w io.Writer, msg Message, magic uint32) (int, error) {
	var bw bytes.Buffer
	if err := msg.Encode(&bw); err != nil {
		return 0, errors.NewMalformedError("failed to encode %s message", msg.Kind(), err)
	}

	payload := bw.Bytes()

	lenp := len(payload)
	if lenp > MaxMessagePayload {
		return 0, errors.NewMalformedError("%s message payload is too large - encoded %d bytes, but maximum message payload is %d bytes", msg.Kind(), lenp, MaxMessagePayload)
	}

	if uint32(lenp) > msg.MaxPayloadLength() {
		return 0, errors.NewMalformedError("%s message payload is too large - encoded %d bytes, but maximum message payload of type %s is %d bytes", msg.Kind(), lenp, msg.Kind(), msg.MaxPayloadLength())
	}

	frame := make([]byte, MessageHeaderSize, MessageHeaderSize+lenp)
	binary.LittleEndian.PutUint32(frame[0:4], magic)
	frame[4] = byte(msg.Kind())
	binary.LittleEndian.PutUint32(frame[5:9], uint32(lenp))
	sum := checksum(payload)
	copy(frame[9:13], sum[:])
	frame = append(frame, payload...)

	n, err := w.Write(frame)
	if err != nil {
		return n, errors.NewNetworkError("failed to write %s message", msg.Kind(), err)
	}

	return n, nil
}

// ReadMessage reads, validates, and parses the next message from r. I/O
// failures are returned as network errors; anything wrong with the bytes
// themselves is ERR_MALFORMED. It returns the number of bytes read.
func ReadMessage(r io.Reader, magic uint32) (Message, int, error) {
	var hdr [MessageHeaderSize]byte

	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return nil, n, errors.NewNetworkError("failed to read message header", err)
	}

	if got := binary.LittleEndian.Uint32(hdr[0:4]); got != magic {
		return nil, n, errors.NewMalformedError("message from other network [%08x]", got)
	}

	kind := Kind(hdr[4])
	length := binary.LittleEndian.Uint32(hdr[5:9])

	if length > MaxMessagePayload {
		return nil, n, errors.NewMalformedError("message payload is too large - header indicates %d bytes, but max message payload is %d bytes", length, MaxMessagePayload)
	}

	msg, err := makeEmptyMessage(kind)
	if err != nil {
		return nil, n, err
	}

	if length > msg.MaxPayloadLength() {
		return nil, n, errors.NewMalformedError("payload exceeds max length - header indicates %d bytes, but max payload size for %s messages is %d", length, kind, msg.MaxPayloadLength())
	}

	payload := make([]byte, length)

	read, err := io.ReadFull(r, payload)
	n += read

	if err != nil {
		return nil, n, errors.NewNetworkError("failed to read %s payload", kind, err)
	}

	if sum := checksum(payload); !bytes.Equal(sum[:], hdr[9:13]) {
		return nil, n, errors.NewMalformedError("payload checksum failed - header indicates %x, but actual checksum is %x", hdr[9:13], sum)
	}

	pr := bytes.NewReader(payload)
	if err = msg.Decode(pr); err != nil {
		return nil, n, errors.NewMalformedError("failed to decode %s message", kind, err)
	}

	if pr.Len() != 0 {
		return nil, n, errors.NewMalformedError("%d trailing bytes after %s message", pr.Len(), kind)
	}

	return msg, n, nil
}

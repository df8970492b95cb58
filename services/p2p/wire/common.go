// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"io"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
)

var littleEndian = binary.LittleEndian

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return littleEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return littleEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	return littleEndian.Uint64(b[:]), nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	littleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])

	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	littleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])

	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	littleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])

	return err
}

func readHash(r io.Reader, hash *chainhash.Hash) error {
	_, err := io.ReadFull(r, hash[:])
	return err
}

func writeHash(w io.Writer, hash *chainhash.Hash) error {
	_, err := w.Write(hash[:])
	return err
}

// readCount reads a varint and rejects values above max, so a hostile peer
// cannot make us allocate based on a count it never backs with data.
func readCount(r io.Reader, max uint64, what string) (uint64, error) {
	var vi bt.VarInt
	if _, err := vi.ReadFrom(r); err != nil {
		return 0, err
	}

	if uint64(vi) > max {
		return 0, errors.NewMalformedError("too many %s - %d, max %d", what, uint64(vi), max)
	}

	return uint64(vi), nil
}

func writeCount(w io.Writer, n int) error {
	_, err := w.Write(bt.VarInt(n).Bytes())
	return err
}

func readString(r io.Reader, max uint64, what string) (string, error) {
	n, err := readCount(r, max, what+" bytes")
	if err != nil {
		return "", err
	}

	b := make([]byte, n)
	if _, err = io.ReadFull(r, b); err != nil {
		return "", err
	}

	return string(b), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeCount(w, len(s)); err != nil {
		return err
	}

	_, err := io.WriteString(w, s)

	return err
}

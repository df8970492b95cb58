package model

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"

	"github.com/bsv-blockchain/powledger/errors"
)

var (
	bigOne = big.NewInt(1)

	// oneLsh256 is 1 shifted left 256 bits.
	oneLsh256 = new(big.Int).Lsh(bigOne, 256)
)

// NBit is the compact representation of a difficulty target, stored little endian as it appears in
// the header encoding. The uint32 form is 0xEEMMMMMM: an 8 bit exponent and a 24 bit mantissa whose
// top bit is a sign.
type NBit [4]byte

func NewNBitFromUint32(compact uint32) NBit {
	var n NBit
	binary.LittleEndian.PutUint32(n[:], compact)

	return n
}

// NewNBitFromString parses the big endian hex form, e.g. "1f00ffff".
func NewNBitFromString(s string) (NBit, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NBit{}, errors.NewInvalidArgumentError("invalid nbits %q", s, err)
	}

	if len(b) != 4 {
		return NBit{}, errors.NewInvalidArgumentError("nbits must be 4 bytes, got %d", len(b))
	}

	return NewNBitFromUint32(binary.BigEndian.Uint32(b)), nil
}

// NewNBitFromTarget converts a target to its compact form. Precision beyond the 3 byte mantissa is
// truncated, so NewNBitFromTarget(t).CalculateTarget() <= t.
func NewNBitFromTarget(target *big.Int) NBit {
	if target.Sign() <= 0 {
		return NewNBitFromUint32(0)
	}

	var mantissa uint32

	exponent := uint(len(target.Bytes()))
	if exponent <= 3 {
		mantissa = uint32(target.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Rsh(target, 8*(exponent-3))
		mantissa = uint32(tn.Bits()[0])
	}

	// the sign bit is set, shift the mantissa down and bump the exponent
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	return NewNBitFromUint32(uint32(exponent<<24) | mantissa)
}

func (n NBit) Uint32() uint32 {
	return binary.LittleEndian.Uint32(n[:])
}

func (n NBit) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n.Uint32())

	return hex.EncodeToString(b[:])
}

// CalculateTarget expands the compact form. Negative targets decode as zero.
func (n NBit) CalculateTarget() *big.Int {
	compact := n.Uint32()

	mantissa := int64(compact & 0x007fffff)
	isNegative := compact&0x00800000 != 0
	exponent := uint(compact >> 24)

	var target *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target = big.NewInt(mantissa)
	} else {
		target = big.NewInt(mantissa)
		target.Lsh(target, 8*(exponent-3))
	}

	if isNegative {
		return big.NewInt(0)
	}

	return target
}

// CalculateWork returns the expected number of hashes needed to meet the target: 2^256 / (target + 1).
func (n NBit) CalculateWork() *big.Int {
	target := n.CalculateTarget()
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(target, bigOne)

	return new(big.Int).Div(oneLsh256, denominator)
}

// CalculateDifficulty returns how many times harder n is than the given limit target.
func (n NBit) CalculateDifficulty(powLimit *big.Int) *big.Float {
	target := n.CalculateTarget()
	if target.Sign() == 0 {
		return big.NewFloat(0)
	}

	return new(big.Float).Quo(new(big.Float).SetInt(powLimit), new(big.Float).SetInt(target))
}

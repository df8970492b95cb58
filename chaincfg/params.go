// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
)

// These variables are the chain proof-of-work limit parameters for each default
// network.
var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a block can have for
	// the main network.  It is the compact value 0x1f00ffff, leaving the top
	// 16 bits of a hash zero.
	mainPowLimit = new(big.Int).Lsh(big.NewInt(0xffff), 224)

	// testNetPowLimit is the highest proof of work value a block can have
	// for the test network.  It is the compact value 0x1f7fffff.
	testNetPowLimit = new(big.Int).Lsh(big.NewInt(0x7fffff), 224)

	// regressionPowLimit is the highest proof of work value a block can
	// have for the regression test network.  It is the compact value
	// 0x207fffff, so roughly every other hash meets it.
	regressionPowLimit = new(big.Int).Lsh(big.NewInt(0x7fffff), 232)
)

// Net identifies a network by the magic value at the start of every wire
// message.
type Net uint32

const (
	MainNet    Net = 0x4c445750
	TestNet    Net = 0x54445750
	RegTestNet Net = 0x52445750
)

// Params defines a network by its parameters.  These parameters are used by
// the node to differentiate networks as well as to validate blocks against the
// consensus rules of the network they belong to.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net defines the magic bytes used to identify the network.
	Net Net

	// DefaultPort defines the default peer-to-peer port for the network.
	DefaultPort string

	// GenesisBlock defines the first block of the chain.  It carries no
	// transactions and is never validated.
	GenesisBlock *model.Block

	// GenesisHash is the starting block hash.
	GenesisHash *chainhash.Hash

	// PowLimit defines the highest allowed proof of work value for a block
	// as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// InitialSubsidy is the reward of the first block, in the smallest unit.
	InitialSubsidy uint64

	// SubsidyReductionInterval is the interval of blocks before the subsidy
	// is halved.
	SubsidyReductionInterval uint32

	// TargetTimePerBlock is the desired amount of time to generate each
	// block.
	TargetTimePerBlock time.Duration

	// RetargetInterval is the number of blocks between difficulty
	// adjustments.
	RetargetInterval uint32

	// RetargetAdjustmentFactor is the adjustment factor used to limit
	// the minimum and maximum amount of adjustment that can occur between
	// difficulty retargets.
	RetargetAdjustmentFactor int64

	// NoDifficultyAdjustment defines whether the network should skip the
	// normal difficulty adjustment and keep the current difficulty.
	NoDifficultyAdjustment bool

	// MaxFutureBlockTime is how far ahead of the local clock a block
	// timestamp may be.
	MaxFutureBlockTime time.Duration

	// MaxBlockSize and MaxTxSize bound the canonical encodings.
	MaxBlockSize int
	MaxTxSize    int
}

// TargetTimespan is the expected duration of one retarget interval.
func (p *Params) TargetTimespan() time.Duration {
	return time.Duration(p.RetargetInterval) * p.TargetTimePerBlock
}

// BlockSubsidy returns the base reward for a block at height.  The subsidy
// halves every SubsidyReductionInterval blocks and reaches zero after 64
// halvings.
func (p *Params) BlockSubsidy(height uint32) uint64 {
	if p.SubsidyReductionInterval == 0 {
		return p.InitialSubsidy
	}

	halvings := height / p.SubsidyReductionInterval
	if halvings >= 64 {
		return 0
	}

	return p.InitialSubsidy >> halvings
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         MainNet,
	DefaultPort: "9333",

	// Chain parameters
	GenesisBlock: genesisBlock(0x1f00ffff, 1_700_000_000),
	PowLimit:     mainPowLimit,
	PowLimitBits: 0x1f00ffff,

	InitialSubsidy:           50 * 1e8,
	SubsidyReductionInterval: 210,
	TargetTimePerBlock:       10 * time.Second,
	RetargetInterval:         50,
	RetargetAdjustmentFactor: 4, // 25% less, 400% more
	NoDifficultyAdjustment:   false,

	MaxFutureBlockTime: 2 * time.Hour,
	MaxBlockSize:       1_000_000,
	MaxTxSize:          100_000,
}

// TestNetParams defines the network parameters for the test network.
var TestNetParams = Params{
	Name:        "testnet",
	Net:         TestNet,
	DefaultPort: "19333",

	GenesisBlock: genesisBlock(0x1f7fffff, 1_700_000_000),
	PowLimit:     testNetPowLimit,
	PowLimitBits: 0x1f7fffff,

	InitialSubsidy:           50 * 1e8,
	SubsidyReductionInterval: 210,
	TargetTimePerBlock:       10 * time.Second,
	RetargetInterval:         50,
	RetargetAdjustmentFactor: 4,
	NoDifficultyAdjustment:   false,

	MaxFutureBlockTime: 2 * time.Hour,
	MaxBlockSize:       1_000_000,
	MaxTxSize:          100_000,
}

// RegressionNetParams defines the network parameters for the regression test
// network.  Not to be confused with the test network, this network is
// sometimes simply called "regtest".
var RegressionNetParams = Params{
	Name:        "regtest",
	Net:         RegTestNet,
	DefaultPort: "29333",

	GenesisBlock: genesisBlock(0x207fffff, 1_700_000_000),
	PowLimit:     regressionPowLimit,
	PowLimitBits: 0x207fffff,

	InitialSubsidy:           50 * 1e8,
	SubsidyReductionInterval: 150,
	TargetTimePerBlock:       10 * time.Second,
	RetargetInterval:         50,
	RetargetAdjustmentFactor: 4,
	NoDifficultyAdjustment:   true,

	MaxFutureBlockTime: 2 * time.Hour,
	MaxBlockSize:       1_000_000,
	MaxTxSize:          100_000,
}

var (
	// ErrDuplicateNet describes an error where the parameters for a
	// network could not be set due to the network already being a standard
	// network or previously-registered into this package.
	ErrDuplicateNet = errors.NewConfigurationError("duplicate network")

	registeredNets = make(map[Net]*Params)
)

// genesisBlock builds the empty block every chain of a network is rooted at.
func genesisBlock(bits uint32, timestamp uint32) *model.Block {
	return model.NewBlock(&chainhash.Hash{}, timestamp, model.NewNBitFromUint32(bits), nil)
}

// Register registers the network parameters for a network.  This may error
// with ErrDuplicateNet if the network is already registered (either due to a
// previous Register call, or the network being one of the default networks).
func Register(params *Params) error {
	if _, ok := registeredNets[params.Net]; ok {
		return ErrDuplicateNet
	}

	if params.GenesisHash == nil {
		params.GenesisHash = params.GenesisBlock.Hash()
	}

	registeredNets[params.Net] = params

	return nil
}

// mustRegister performs the same function as Register except it panics if there
// is an error.  This should only be called from package init functions.
func mustRegister(params *Params) {
	if err := Register(params); err != nil {
		panic("failed to register network: " + err.Error())
	}
}

// ParamsForNet returns the registered parameters for a wire magic.
func ParamsForNet(net Net) (*Params, bool) {
	p, ok := registeredNets[net]
	return p, ok
}

func GetChainParams(network string) (*Params, error) {
	switch network {
	case "mainnet":
		return &MainNetParams, nil
	case "testnet":
		return &TestNetParams, nil
	case "regtest":
		return &RegressionNetParams, nil
	default:
		return nil, errors.NewConfigurationError("unknown network %s", network)
	}
}

func init() {
	// Register all default networks when the package is initialized.
	mustRegister(&MainNetParams)
	mustRegister(&TestNetParams)
	mustRegister(&RegressionNetParams)
}

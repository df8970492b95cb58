package settings

import (
	"net/url"
	"time"

	"github.com/bsv-blockchain/powledger/chaincfg"
)

type PolicySettings struct {
	MaxTxSizePolicy int
	MinMiningTxFee  uint64
}

type BlockChainSettings struct {
	MaxReorgDepth   uint32
	OrphanTTL       time.Duration
	MaxOrphanBlocks int
	// SubscriberBufferSize is the channel capacity handed to each Subscribe call.
	SubscriberBufferSize int
}

type MempoolSettings struct {
	MaxTransactions int
	MaxTxAge        time.Duration
	CleanupInterval time.Duration
}

type BlockAssemblySettings struct {
	MaxBlockTransactions int
	CandidateTTL         time.Duration
}

type MinerSettings struct {
	Enabled bool
	// Owner is the hex owner id the mined coinbase pays.
	Owner             string
	CandidateInterval time.Duration
}

type P2PSettings struct {
	ListenAddress     string
	ConnectPeers      []string
	MaxPeers          int
	InboundPerSecond  int
	UserAgent         string
	ReconnectInterval time.Duration
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration
	IdleTimeout       time.Duration
	SeenCacheSize     uint64
	SeenCacheTTL      time.Duration
	MaxBlocksPerInv   int
	MaxHeaders        int
	BanThreshold      int
	BanDuration       time.Duration
}

type BlockPersisterSettings struct {
	StoreURL     *url.URL
	SaveInterval time.Duration
}

type Settings struct {
	ClientName              string
	DataFolder              string
	LogLevel                string
	PrettyLogs              bool
	PrometheusListenAddress string
	HealthCheckAddress      string
	ChainCfgParams          *chaincfg.Params
	Policy                  *PolicySettings
	BlockChain              BlockChainSettings
	Mempool                 MempoolSettings
	BlockAssembly           BlockAssemblySettings
	Miner                   MinerSettings
	P2P                     P2PSettings
	BlockPersister          BlockPersisterSettings
}

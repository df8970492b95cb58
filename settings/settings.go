package settings

import (
	"time"

	"github.com/bsv-blockchain/powledger/chaincfg"
)

func NewSettings() *Settings {
	params, err := chaincfg.GetChainParams(getString("network", "mainnet"))
	if err != nil {
		panic(err)
	}

	return &Settings{
		ClientName:              getString("clientName", "powledger"),
		DataFolder:              getString("dataFolder", "data"),
		LogLevel:                getString("logLevel", "INFO"),
		PrettyLogs:              getBool("PRETTY_LOGS", true),
		PrometheusListenAddress: getString("prometheusListenAddress", ":9091"),
		HealthCheckAddress:      getString("healthCheckAddress", ":8000"),
		ChainCfgParams:          params,
		Policy: &PolicySettings{
			MaxTxSizePolicy: getInt("maxtxsizepolicy", params.MaxTxSize),
			MinMiningTxFee:  uint64(getInt("minminingtxfee", 0)), //nolint:gosec // negative values are rejected by validation
		},
		BlockChain: BlockChainSettings{
			MaxReorgDepth:        uint32(getInt("blockchain_maxReorgDepth", 100)), //nolint:gosec // configuration value
			OrphanTTL:            getDuration("blockchain_orphanTTL", 10*time.Minute),
			MaxOrphanBlocks:      getInt("blockchain_maxOrphanBlocks", 100),
			SubscriberBufferSize: getInt("blockchain_subscriberBufferSize", 100),
		},
		Mempool: MempoolSettings{
			MaxTransactions: getInt("mempool_maxTransactions", 50_000),
			MaxTxAge:        getDuration("mempool_maxTxAge", 600*time.Second),
			CleanupInterval: getDuration("mempool_cleanupInterval", 30*time.Second),
		},
		BlockAssembly: BlockAssemblySettings{
			MaxBlockTransactions: getInt("blockassembly_maxBlockTransactions", 20),
			CandidateTTL:         getDuration("blockassembly_candidateTTL", 10*time.Minute),
		},
		Miner: MinerSettings{
			Enabled:           getBool("miner_enabled", false),
			Owner:             getString("miner_owner", ""),
			CandidateInterval: getDuration("miner_candidateInterval", 10*time.Second),
		},
		P2P: P2PSettings{
			ListenAddress:     getString("p2p_listenAddress", ":"+params.DefaultPort),
			ConnectPeers:      getMultiString("p2p_connectPeers", "|", []string{}),
			MaxPeers:          getInt("p2p_maxPeers", 125),
			InboundPerSecond:  getInt("p2p_inboundPerSecond", 10),
			UserAgent:         getString("p2p_userAgent", "/powledger:0.1.0/"),
			ReconnectInterval: getDuration("p2p_reconnectInterval", 10*time.Second),
			HandshakeTimeout:  getDuration("p2p_handshakeTimeout", 10*time.Second),
			PingInterval:      getDuration("p2p_pingInterval", 30*time.Second),
			IdleTimeout:       getDuration("p2p_idleTimeout", 2*time.Minute),
			SeenCacheSize:     uint64(getInt("p2p_seenCacheSize", 10_000)), //nolint:gosec // configuration value
			SeenCacheTTL:      getDuration("p2p_seenCacheTTL", 10*time.Minute),
			MaxBlocksPerInv:   getInt("p2p_maxBlocksPerInv", 500),
			MaxHeaders:        getInt("p2p_maxHeaders", 2000),
			BanThreshold:      getInt("p2p_banThreshold", 100),
			BanDuration:       getDuration("p2p_banDuration", 24*time.Hour),
		},
		BlockPersister: BlockPersisterSettings{
			StoreURL:     getURL("blockpersister_store", "file://./data/blockchain.cbor"),
			SaveInterval: getDuration("blockpersister_saveInterval", 15*time.Second),
		},
	}
}

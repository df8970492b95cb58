package test

import (
	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/settings"
)

// CreateBaseTestSettings returns settings for the regression test network with a private copy of its
// parameters, so tests can tweak them freely.
func CreateBaseTestSettings() *settings.Settings {
	tSettings := settings.NewSettings()

	params := chaincfg.RegressionNetParams
	tSettings.ChainCfgParams = &params

	tSettings.P2P.ListenAddress = "127.0.0.1:0"
	tSettings.P2P.ConnectPeers = nil

	tSettings.Miner.Enabled = false
	tSettings.Miner.Owner = ""

	return tSettings
}

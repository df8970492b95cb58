// Command powledger runs a proof-of-work ledger node.
package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/bsv-blockchain/powledger/chaincfg"
	"github.com/bsv-blockchain/powledger/daemon"
	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/model"
	"github.com/bsv-blockchain/powledger/settings"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "powledger"

// Version & commit strings injected at build with -ldflags -X...
var (
	version string
	commit  string
)

func init() {
	gocore.SetInfo(progname, version, commit)
}

func main() {
	app := &cli.App{
		Name:    progname,
		Usage:   "A proof-of-work peer-to-peer ledger node",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Start the node",
				Action: start,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "network",
						Usage: "network to join: mainnet, testnet or regtest",
					},
					&cli.StringFlag{
						Name:  "listen",
						Usage: "address to accept peers on",
					},
					&cli.StringSliceFlag{
						Name:  "connect",
						Usage: "peer address to connect to, may be repeated",
					},
					&cli.StringFlag{
						Name:  "store",
						Usage: "chain store url: file://, sqlite://, sqlitememory:// or leveldb://",
					},
					&cli.StringFlag{
						Name:  "mine-to",
						Usage: "mine blocks paying this owner id",
					},
				},
			},
			{
				Name:   "keygen",
				Usage:  "Generate a private key and print the owner id it spends for",
				Action: keygen,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		os.Exit(1)
	}
}

func start(c *cli.Context) error {
	tSettings := settings.NewSettings()

	if err := applyFlags(c, tSettings); err != nil {
		return err
	}

	logger := ulogger.New(progname, ulogger.WithLevel(tSettings.LogLevel), ulogger.WithPretty(tSettings.PrettyLogs))

	logger.Infof("%s %s (%s) starting on %s", progname, version, commit, tSettings.ChainCfgParams.Name)

	d := daemon.New(daemon.WithLoggerFactory(func(serviceName string) ulogger.Logger {
		return logger.New(serviceName)
	}))

	return d.Start(logger, tSettings)
}

// applyFlags overrides the configured settings with the flags given on the command line.
func applyFlags(c *cli.Context, tSettings *settings.Settings) error {
	if c.IsSet("network") {
		params, err := chaincfg.GetChainParams(c.String("network"))
		if err != nil {
			return err
		}

		tSettings.ChainCfgParams = params
	}

	if c.IsSet("listen") {
		tSettings.P2P.ListenAddress = c.String("listen")
	}

	if c.IsSet("connect") {
		tSettings.P2P.ConnectPeers = c.StringSlice("connect")
	}

	if c.IsSet("store") {
		u, err := url.Parse(c.String("store"))
		if err != nil {
			return errors.NewConfigurationError("invalid store url %q", c.String("store"), err)
		}

		tSettings.BlockPersister.StoreURL = u
	}

	if c.IsSet("mine-to") {
		if _, err := model.NewOwnerIDFromString(c.String("mine-to")); err != nil {
			return err
		}

		tSettings.Miner.Enabled = true
		tSettings.Miner.Owner = c.String("mine-to")
	}

	if tSettings.BlockPersister.SaveInterval <= 0 {
		tSettings.BlockPersister.SaveInterval = 15 * time.Second
	}

	return nil
}

func keygen(_ *cli.Context) error {
	key, err := model.NewPrivateKey()
	if err != nil {
		return err
	}

	fmt.Printf("private key: %x\n", key.Serialise())
	fmt.Printf("owner id:    %s\n", model.OwnerIDFromPrivateKey(key))

	return nil
}

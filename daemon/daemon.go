// Package daemon wires the node's services together and serves its health and metrics endpoints.
package daemon

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bsv-blockchain/powledger/errors"
	"github.com/bsv-blockchain/powledger/services/blockassembly"
	"github.com/bsv-blockchain/powledger/services/blockchain"
	"github.com/bsv-blockchain/powledger/services/blockpersister"
	"github.com/bsv-blockchain/powledger/services/miner"
	"github.com/bsv-blockchain/powledger/services/p2p"
	"github.com/bsv-blockchain/powledger/settings"
	blockchainstore "github.com/bsv-blockchain/powledger/stores/blockchain"
	"github.com/bsv-blockchain/powledger/stores/utxo/memory"
	"github.com/bsv-blockchain/powledger/ulogger"
	"github.com/bsv-blockchain/powledger/util/servicemanager"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

var metricsRegistered sync.Once

type Option func(*Daemon)

// WithLoggerFactory provides a custom logger factory for the daemon and its services.
func WithLoggerFactory(factory func(serviceName string) ulogger.Logger) Option {
	return func(d *Daemon) {
		d.loggerFactory = factory
	}
}

func WithContext(ctx context.Context) Option {
	return func(d *Daemon) {
		d.Ctx = ctx
	}
}

type Daemon struct {
	Ctx            context.Context
	ServiceManager *servicemanager.ServiceManager

	// the running services, set by Start
	Blockchain    *blockchain.Blockchain
	BlockAssembly *blockassembly.BlockAssembly
	P2P           *p2p.Server

	loggerFactory func(serviceName string) ulogger.Logger
	serverMu      sync.Mutex
	servers       []*http.Server
	healthAddr    atomic.String
	doneCh        chan struct{}
	closeDoneOnce sync.Once
	stopCh        chan struct{}
}

func New(opts ...Option) *Daemon {
	d := &Daemon{
		Ctx:    context.Background(),
		doneCh: make(chan struct{}),
		stopCh: make(chan struct{}),
		loggerFactory: func(serviceName string) ulogger.Logger {
			return ulogger.New(serviceName)
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ServiceManager = servicemanager.NewServiceManager(d.Ctx, d.loggerFactory("ServiceManager"))

	return d
}

// Start builds and starts every service, then blocks until the node shuts down. readyCh, when given,
// is closed once all services are ready. The returned error is the one that brought the node down,
// or nil after a requested shutdown.
func (d *Daemon) Start(logger ulogger.Logger, tSettings *settings.Settings, readyCh ...chan struct{}) error {
	defer close(d.stopCh)

	sm := d.ServiceManager

	if err := d.startServices(logger, tSettings, sm); err != nil {
		sm.ForceShutdown()
		_ = sm.Wait()

		return err
	}

	if err := d.startHTTPServers(logger, tSettings, sm); err != nil {
		sm.ForceShutdown()
		_ = sm.Wait()

		return err
	}

	defer d.stopHTTPServers(logger)

	go func() {
		sm.WaitForServiceToBeReady()

		if sm.Ctx.Err() != nil {
			return
		}

		servicemanager.AddListenerInfo("p2p " + d.P2P.ListenAddr())

		if len(readyCh) > 0 {
			close(readyCh[0])
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- sm.Wait()
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			logger.Errorf("services failed: %v", err)
		}

		return err

	case <-d.doneCh:
		logger.Infof("daemon shutdown requested")

		sm.ForceShutdown()

		return <-waitErr
	}
}

// Stop asks Start to shut the node down and waits up to timeout for it to finish.
func (d *Daemon) Stop(timeout time.Duration) error {
	d.closeDoneOnce.Do(func() { close(d.doneCh) })

	select {
	case <-d.stopCh:
		return nil
	case <-time.After(timeout):
		return errors.NewProcessingError("timeout waiting for services to stop after %v", timeout)
	}
}

// HealthAddr is the address the health endpoint is listening on, once started.
func (d *Daemon) HealthAddr() string {
	return d.healthAddr.Load()
}

// startServices adds the services in dependency order: the chain first, the saved chain replayed into
// it next, and the peer protocol last so peers only ever see the restored chain.
func (d *Daemon) startServices(logger ulogger.Logger, tSettings *settings.Settings, sm *servicemanager.ServiceManager) error {
	createLogger := d.loggerFactory

	chain, err := blockchain.New(createLogger("bchn"), tSettings, memory.New(createLogger("utxo")))
	if err != nil {
		return err
	}

	d.Blockchain = chain

	if err = sm.AddService("Blockchain", chain); err != nil {
		return err
	}

	store, err := blockchainstore.NewStore(createLogger("bstore"), tSettings, tSettings.BlockPersister.StoreURL)
	if err != nil {
		return err
	}

	if err = sm.AddService("BlockPersister", blockpersister.New(createLogger("bp"), tSettings, chain, store)); err != nil {
		_ = store.Close()
		return err
	}

	d.BlockAssembly = blockassembly.New(createLogger("ba"), tSettings, chain)

	if err = sm.AddService("BlockAssembly", d.BlockAssembly); err != nil {
		return err
	}

	if tSettings.Miner.Enabled {
		if err = sm.AddService("Miner", miner.New(createLogger("miner"), tSettings, d.BlockAssembly, chain)); err != nil {
			return err
		}
	}

	d.P2P, err = p2p.New(createLogger("p2p"), tSettings, chain)
	if err != nil {
		return err
	}

	if err = sm.AddService("P2P", d.P2P); err != nil {
		return err
	}

	logger.Infof("started services on %s", tSettings.ChainCfgParams.Name)

	return nil
}

func (d *Daemon) startHTTPServers(logger ulogger.Logger, tSettings *settings.Settings, sm *servicemanager.ServiceManager) error {
	healthFunc := func(liveness bool) func(http.ResponseWriter, *http.Request) {
		return func(w http.ResponseWriter, r *http.Request) {
			status, details, _ := sm.HealthHandler(r.Context(), liveness)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(details))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthFunc(false))
	mux.HandleFunc("/health/readiness", healthFunc(false))
	mux.HandleFunc("/health/liveness", healthFunc(true))

	healthAddr, err := d.serve(logger, "health", tSettings.HealthCheckAddress, mux)
	if err != nil {
		return err
	}

	d.healthAddr.Store(healthAddr)

	if tSettings.PrometheusListenAddress == "" {
		return nil
	}

	metricsRegistered.Do(func() {
		http.Handle("/metrics", promhttp.Handler())
	})

	_, err = d.serve(logger, "metrics", tSettings.PrometheusListenAddress, http.DefaultServeMux)

	return err
}

func (d *Daemon) serve(logger ulogger.Logger, name, addr string, handler http.Handler) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.NewConfigurationError("failed to listen for %s on %s", name, addr, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	d.serverMu.Lock()
	d.servers = append(d.servers, server)
	d.serverMu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("%s server failed: %v", name, err)
		}
	}()

	servicemanager.AddListenerInfo(name + " " + listener.Addr().String())
	logger.Infof("%s endpoint listening on http://%s", name, listener.Addr())

	return listener.Addr().String(), nil
}

func (d *Daemon) stopHTTPServers(logger ulogger.Logger) {
	d.serverMu.Lock()
	defer d.serverMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, server := range d.servers {
		if err := server.Shutdown(ctx); err != nil {
			logger.Warnf("error shutting down http server: %v", err)
		}
	}

	d.servers = nil
}

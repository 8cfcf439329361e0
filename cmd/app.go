package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/goatnetwork/wallet-sweeper/internal/balance"
	"github.com/goatnetwork/wallet-sweeper/internal/btc"
	"github.com/goatnetwork/wallet-sweeper/internal/chain"
	"github.com/goatnetwork/wallet-sweeper/internal/config"
	"github.com/goatnetwork/wallet-sweeper/internal/db"
	"github.com/goatnetwork/wallet-sweeper/internal/evm"
	"github.com/goatnetwork/wallet-sweeper/internal/health"
	"github.com/goatnetwork/wallet-sweeper/internal/http"
	"github.com/goatnetwork/wallet-sweeper/internal/state"
	"github.com/goatnetwork/wallet-sweeper/internal/sweep"
	"github.com/goatnetwork/wallet-sweeper/internal/types"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	State           *state.State
	Monitor         *health.Monitor
	HTTPServer      *http.HTTPServer
}

func NewApplication() *Application {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}
	config.InitConfig()
	cfg := config.AppConfig

	ethClient, err := evm.Dial(context.Background(), cfg.EVMRPC)
	if err != nil {
		log.Fatalf("Failed to start evm client: %v", err)
	}
	evmAdapter := evm.NewAdapter(ethClient, evm.Options{
		ChainID:  big.NewInt(cfg.EVMChainID),
		GasLimit: cfg.EVMGasLimit,
		Timeout:  cfg.RPCTimeout,
	})

	// create bitcoin client using btc module connection
	btcClient, err := btc.NewRPCClient(cfg.BTCRPC, cfg.BTCRPC_USER, cfg.BTCRPC_PASS)
	if err != nil {
		log.Fatalf("Failed to start bitcoin client: %v", err)
	}
	btcAdapter := btc.NewAdapter(btcClient, btc.Options{
		Net:     btc.GetBTCNetwork(cfg.BTCNetworkType),
		FeeAPI:  cfg.BTCFeeAPI,
		Timeout: cfg.RPCTimeout,
	})

	registry := chain.NewRegistry(evmAdapter, btcAdapter)

	probes := []health.Probe{evmAdapter, btcAdapter}
	if cfg.SolanaRPC != "" {
		probes = append(probes, health.NewSolanaProbe("solana", cfg.SolanaRPC))
	}
	for id, url := range cfg.HTTPProbes {
		probes = append(probes, health.NewHTTPProbe(id, url))
	}

	dbm := db.NewDatabaseManager()
	state := state.InitializeState(dbm)
	monitor := health.NewMonitor(state, health.Options{
		PollInterval:    cfg.PollInterval,
		ProbeTimeout:    cfg.RPCTimeout,
		DisconnectAfter: cfg.DisconnectAfter,
	}, probes...)
	balances := balance.NewService(registry, dbm, cfg.BalanceCacheTTL)
	orchestrator := sweep.NewOrchestrator(registry, state, monitor, balances, sweep.Options{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		Workers:     cfg.WorkerPoolSize,
	})
	httpServer := http.NewHTTPServer(state, monitor, balances, orchestrator, http.Options{
		Port:      cfg.HTTPPort,
		JwtSecret: cfg.APIJwtSecret,
	})

	return &Application{
		DatabaseManager: dbm,
		State:           state,
		Monitor:         monitor,
		HTTPServer:      httpServer,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	events := make(chan interface{}, 64)
	app.Monitor.Subscribe(events)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Monitor.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HTTPServer.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logBackendEvents(ctx, events)
	}()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	app.Monitor.Unsubscribe(events)
	if err := app.DatabaseManager.Close(); err != nil {
		log.Errorf("Failed to close database: %v", err)
	}
	log.Info("Server stopped")
}

// logBackendEvents is the presentation side of the monitor for a headless node
func logBackendEvents(ctx context.Context, events chan interface{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if e, ok := ev.(types.BackendEvent); ok {
				log.WithFields(log.Fields{
					"backend": e.BackendID,
					"from":    e.OldState,
					"to":      e.NewState,
				}).Info("Backend state changed")
			}
		}
	}
}

func main() {
	app := NewApplication()
	app.Run()
}

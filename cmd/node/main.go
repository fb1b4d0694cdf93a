package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictx/predictx/params"
	"github.com/predictx/predictx/pkg/api"
	"github.com/predictx/predictx/pkg/crypto"
	"github.com/predictx/predictx/pkg/engine"
	"github.com/predictx/predictx/pkg/relayer"
	"github.com/predictx/predictx/pkg/settlement"
	"github.com/predictx/predictx/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("") // "" means load .env from the current directory

	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("node_starting", "log_file", cfg.LogFile)

	if cfg.Chain.RelayerPrivateKey == "" {
		sugar.Fatal("RELAYER_PRIVATE_KEY environment variable required")
	}
	relayerKey, err := crypto.FromPrivateKeyHex(cfg.Chain.RelayerPrivateKey)
	if err != nil {
		sugar.Fatalw("relayer_key_invalid", "err", err)
	}
	if !common.IsHexAddress(cfg.Chain.SettlementAddress) {
		sugar.Fatal("SETTLEMENT_ADDRESS environment variable required")
	}
	settlementAddr := common.HexToAddress(cfg.Chain.SettlementAddress)

	sugar.Infow("chain_config",
		"rpc", cfg.Chain.RPCURL,
		"chain_id", cfg.Chain.ChainID,
		"settlement", settlementAddr.Hex(),
		"relayer", relayerKey.Address().Hex(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Wiring: engine <- loop -> relayer -> settlement ----
	// All dependencies are passed explicitly; nothing lives in globals.
	client, err := settlement.NewEthClient(ctx, cfg.Chain.RPCURL, settlementAddr, relayerKey, cfg.Chain.ChainID, sugar)
	if err != nil {
		sugar.Fatalw("settlement_client_init_failed", "err", err)
	}

	eng := engine.New(cfg.Chain.ChainID, settlementAddr, util.RealClock{}, sugar)

	rly := relayer.New(client, relayer.Config{
		BatchSize:       cfg.Relayer.BatchSize,
		BatchDelay:      cfg.Relayer.BatchDelay,
		MaxGasPriceGwei: cfg.Relayer.MaxGasPriceGwei,
		MaxRetries:      cfg.Relayer.MaxRetries,
		RetryBaseDelay:  cfg.Relayer.RetryBaseDelay,
		RetryMaxDelay:   cfg.Relayer.RetryMaxDelay,
	}, util.RealClock{}, sugar, eng.RejectFill)

	loop := engine.NewLoop(eng, rly, cfg.Engine.MatchInterval, cfg.Engine.ExpirySweepEvery, util.RealClock{}, sugar)

	server := api.NewServer(eng, rly, sugar)
	loop.OnMatches = server.BroadcastMatches

	loop.Start()
	go func() {
		if err := server.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")

	// Stop producing fills first, then drain what is already queued so no
	// fills are lost from memory.
	loop.Stop()
	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	rly.Flush(flushCtx)

	sugar.Infow("node_stopped",
		"engine", eng.Stats(),
		"relayer", rly.Stats(),
	)
}

package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"auctionchain/config"
	"auctionchain/core"
	"auctionchain/crypto"
	"auctionchain/observability/logging"
	"auctionchain/rpc"
	"auctionchain/storage"
)

const validatorPassEnv = "AUCTION_VALIDATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("AUCTION_ENV"))
	logger := logging.Setup("auctiond", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := storage.OpenFile(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	passphrase := os.Getenv(validatorPassEnv)
	key, err := crypto.LoadFromKeystore(cfg.ValidatorKeystorePath, passphrase)
	if err != nil {
		logger.Error("failed to load validator key", slog.Any("error", err))
		os.Exit(1)
	}

	node, err := core.NewNode(store, key, cfg.BlockInterval(), logger)
	if err != nil {
		logger.Error("failed to create node", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("node initialised",
		slog.String("network", cfg.NetworkName),
		slog.String("validator", node.ValidatorAddress().String()),
		slog.Uint64("height", node.GetHeight()),
	)

	node.Start()
	defer node.Stop()

	if err := rpc.NewServer(node, logger).Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

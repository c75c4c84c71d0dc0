// Command frost-signer runs one FROST participant behind an HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/canopy-network/frost-taproot/config"
	"github.com/canopy-network/frost-taproot/keystore"
	"github.com/canopy-network/frost-taproot/logging"
	"github.com/canopy-network/frost-taproot/signer"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadSigner(args)
	if err != nil {
		return err
	}
	logger, err := logging.New("frost-signer", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("threshold parameters", zap.String("warning", w))
	}

	store, err := keystore.OpenBoltStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	node, err := signer.NewNode(cfg.PartyID, cfg.Params, store,
		signer.WithLogger(logger.Logger),
		signer.WithSessionRetention(cfg.Retention))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Load(ctx); err != nil {
		return err
	}
	go node.RunJanitor(ctx, cfg.NonceTTL/2, cfg.NonceTTL)

	logger.Info("starting signer",
		zap.Uint32("party_id", uint32(cfg.PartyID)),
		zap.Int("threshold", cfg.Params.Threshold),
		zap.Int("total", cfg.Params.Total))
	return signer.NewServer(node, logger.Logger).ListenAndServe(ctx, cfg.Listen)
}

// Command frost-coordinator makes sure the signers share a key, prints its
// taproot address and optionally signs one message.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/canopy-network/frost-taproot/adapters"
	"github.com/canopy-network/frost-taproot/config"
	"github.com/canopy-network/frost-taproot/coordinator"
	"github.com/canopy-network/frost-taproot/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadCoordinator(args)
	if err != nil {
		return err
	}
	logger, err := logging.New("frost-coordinator", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("threshold parameters", zap.String("warning", w))
	}

	net, err := adapters.NetworkParams(cfg.Network)
	if err != nil {
		return err
	}
	var message []byte
	if cfg.Message != "" {
		if message, err = hex.DecodeString(cfg.Message); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
	}

	coord, err := coordinator.New(cfg.Params,
		coordinator.NewHTTPParticipants(cfg.SignerURLs, nil),
		coordinator.WithRoundTimeout(cfg.RoundTimeout),
		coordinator.WithLogger(logger.Logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := coord.EnsureKey(ctx)
	if err != nil {
		return err
	}
	addr, err := adapters.NewTaprootAdapter(net).Address(pub.GroupPublicKey)
	if err != nil {
		return err
	}
	logger.Info("group key ready",
		zap.String("group_key", hex.EncodeToString(pub.GroupPublicKey.XOnlyBytes())),
		zap.String("address", addr.EncodeAddress()))
	fmt.Println(addr.EncodeAddress())

	if message == nil {
		return nil
	}
	sessionID := coordinator.NewSessionID()
	sig, err := coord.Sign(ctx, sessionID, pub.Participants()[:cfg.Params.Threshold], message)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(sig.Bytes()))
	return nil
}

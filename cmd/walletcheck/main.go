// Command walletcheck loads the wallet configuration from the environment and
// prints the connection plan it resolves to.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/better-wallet/embedded-connect/internal/config"
	"github.com/better-wallet/embedded-connect/internal/logger"
	"github.com/better-wallet/embedded-connect/internal/strategy"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// No external bridge exists outside a host application.
	set, err := strategy.Select(cfg, nil)
	if err != nil {
		slog.Error("failed to select connection strategy", "mode", cfg.ConnectMode, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	evm := set.Ethereum
	chainID, _ := evm.ChainID()

	fmt.Printf("mode:          %s\n", cfg.ConnectMode)
	fmt.Printf("chain family:  %s\n", cfg.ChainFamily)
	fmt.Printf("evm strategy:  %s\n", evm.Kind())
	fmt.Printf("evm chain id:  %d\n", chainID)
	fmt.Printf("account type:  %s\n", cfg.DefaultAccountType)
	fmt.Printf("routes:        %v\n", evm.ConnectRoutes())
	for _, id := range cfg.ChainIDs() {
		url, _ := cfg.RPCURL(id)
		fmt.Printf("rpc %-10d %s policy=%q\n", id, url, cfg.PolicyID(id))
	}

	if sol, ok := set.Solana.(*strategy.EmbeddedSolana); ok {
		fmt.Printf("solana:        %s (%s)\n", sol.Cluster(), sol.Kind())
	} else {
		fmt.Println("solana:        disabled")
	}

	logger.Info(ctx, "connection plan resolved", "strategy", string(evm.Kind()), "chain_id", chainID)
}

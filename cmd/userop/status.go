package userop

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github/chapool/go-autoyield/internal/config"
	"github/chapool/go-autoyield/internal/relay"
	"github/chapool/go-autoyield/internal/util/command"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const statusTimeout = 10 * time.Second

func newStatus() *cobra.Command {
	return &cobra.Command{
		Use:   "status <hash>",
		Short: "Prints the receipt of a submitted operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultServiceConfigFromEnv()
			command.ApplyLoggerConfig(cfg.Logger)

			b, err := hexutil.Decode(args[0])
			if err != nil || len(b) != common.HashLength {
				return errors.Errorf("invalid operation hash %q", args[0])
			}

			return printStatus(cmd.Context(), cfg, common.BytesToHash(b))
		},
	}
}

//nolint:forbidigo
func printStatus(ctx context.Context, cfg config.Server, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	client, err := relay.Dial(ctx, cfg.Relay, common.HexToAddress(cfg.Chain.EntryPoint), big.NewInt(cfg.Chain.ChainID))
	if err != nil {
		return err
	}
	defer client.Close()

	receipt, err := client.Receipt(ctx, hash)
	if err != nil {
		return err
	}

	if receipt == nil {
		fmt.Println("pending")
		return nil
	}

	status := "success"
	if !receipt.Success {
		status = "reverted"
	}

	fmt.Printf("status:       %s\n", status)
	if receipt.Reason != "" {
		fmt.Printf("reason:       %s\n", receipt.Reason)
	}
	fmt.Printf("transaction:  %s\n", receipt.TransactionHash.Hex())
	fmt.Printf("block:        %s\n", receipt.BlockNumber)
	fmt.Printf("gas used:     %s\n", receipt.ActualGasUsed)
	fmt.Printf("gas cost:     %s\n", receipt.ActualGasCost)

	return nil
}

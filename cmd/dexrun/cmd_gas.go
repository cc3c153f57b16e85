package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dexrun/dexrun/internal/gas"
)

var flagOp string

var gasCmd = &cobra.Command{
	Use:   "gas",
	Short: "Print the current gas quote for an operation",
	RunE:  runGas,
}

func init() {
	gasCmd.Flags().StringVar(&flagOp, "op", "swap", "Operation type: swap, approve, transfer")
	gasCmd.Flags().BoolVar(&flagJSON, "json", false, "Emit JSON instead of a table")
}

func runGas(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}

	op := gas.OpType(flagOp)
	switch op {
	case gas.OpSwap, gas.OpApprove, gas.OpTransfer:
	default:
		return fmt.Errorf("unknown operation type %q", flagOp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	quote, err := eng.gasQuotes.Quote(ctx, op)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(quote)
	}

	fmt.Printf("Operation:      %s\n", op)
	fmt.Printf("Gas price:      %.3f gwei\n", quote.GasPrice/1e9)
	fmt.Printf("Gas limit:      %d\n", quote.GasLimit)
	fmt.Printf("Estimated cost: %.8f\n", quote.EstimatedCost)
	fmt.Printf("High:           %v\n", quote.High)
	return nil
}

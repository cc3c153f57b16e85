package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var flagJSON bool

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a token pair once without trading",
	Long: `Evaluate runs the opportunity scorer, risk assessor, and manipulation
detector against a token pair and prints the verdicts. No orders are placed.`,
	RunE: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&flagToken, "token", "0xTOKEN", "Token contract address")
	evaluateCmd.Flags().StringVar(&flagPair, "pair", "0xPAIR", "Pair contract address")
	evaluateCmd.Flags().BoolVar(&flagJSON, "json", false, "Emit JSON instead of a table")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec := eng.scorer.Evaluate(ctx, flagToken, flagPair)
	assessment := eng.assessor.AssessTradeRisk(ctx, flagToken, flagPair, eng.cfg.Trading.BaseSizeUSD)
	report := eng.detector.Check(ctx, flagToken, flagPair)

	if flagJSON {
		out := map[string]any{
			"token":          flagToken,
			"pair":           flagPair,
			"recommendation": rec,
			"risk":           assessment,
			"manipulation":   report,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Token:        %s\n", flagToken)
	fmt.Printf("Pair:         %s\n", flagPair)
	fmt.Printf("Opportunity:  %.2f  (%s, confidence %.2f)\n", rec.Score, rec.Action, rec.Confidence)
	for _, part := range rec.Parts {
		fmt.Printf("  %-10s  %.2f\n", part.Category, part.Score)
	}
	fmt.Printf("Safety:       %.2f\n", rec.SafetyScore)
	fmt.Printf("Risk:         %.3f  (acceptable: %v)\n", assessment.Score, assessment.Acceptable)
	for category, score := range assessment.Factors {
		fmt.Printf("  %-10s  %.3f\n", category, score.Score)
	}
	for _, warning := range assessment.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	fmt.Printf("Manipulation: %.3f  (safe: %v)\n", report.Score, report.Safe)
	for _, warning := range report.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	return nil
}

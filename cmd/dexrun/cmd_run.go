package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagToken    string
	flagPair     string
	flagStrategy string
	flagInterval time.Duration
	flagCycles   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a strategy session against a token pair",
	Long: `Run starts a strategy session and evaluates trade cycles on an interval
until interrupted or the cycle budget is spent. Open positions are closed
when the session stops.`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVar(&flagToken, "token", "0xTOKEN", "Token contract address")
	runCmd.Flags().StringVar(&flagPair, "pair", "0xPAIR", "Pair contract address")
	runCmd.Flags().StringVar(&flagStrategy, "strategy", "hybrid", "Strategy name")
	runCmd.Flags().DurationVar(&flagInterval, "interval", 30*time.Second, "Delay between evaluation cycles")
	runCmd.Flags().IntVar(&flagCycles, "cycles", 0, "Stop after this many cycles (0 = run until interrupted)")
}

func runSession(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessionID, err := eng.orch.StartSession(flagStrategy, flagToken, flagPair)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(flagInterval)
	defer ticker.Stop()

	cycles := 0
	for {
		result, err := eng.orch.RunCycle(ctx, sessionID)
		if err != nil {
			log.Error().Err(err).Msg("cycle failed")
		} else {
			event := log.Info().
				Str("action", string(result.Recommendation.Action)).
				Float64("score", result.Recommendation.Score).
				Float64("risk", result.Risk.Score)
			if result.Entered {
				event = event.Str("opened", result.PositionID).Float64("size_usd", result.SizeUSD)
			}
			if result.Exited {
				event = event.Str("closed", result.PositionID)
			}
			if len(result.Skips) > 0 {
				event = event.Strs("skips", result.Skips)
			}
			event.Msg("cycle complete")
		}

		cycles++
		if flagCycles > 0 && cycles >= flagCycles {
			break
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("interrupted, stopping session")
			goto stop
		case <-ticker.C:
		}
	}

stop:
	// Stop with a fresh context so the shutdown close trades still go out.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	session, err := eng.orch.StopSession(stopCtx, sessionID)
	if err != nil {
		return err
	}
	log.Info().
		Int("trades", session.Performance.TotalTrades).
		Int("wins", session.Performance.WinningTrades).
		Float64("profit", session.Performance.TotalProfit).
		Msg("session finished")
	return nil
}

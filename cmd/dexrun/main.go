package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/gas"
	"github.com/dexrun/dexrun/internal/opportunity"
	"github.com/dexrun/dexrun/internal/position"
	"github.com/dexrun/dexrun/internal/providers"
	"github.com/dexrun/dexrun/internal/risk"
	"github.com/dexrun/dexrun/internal/strategy"
	"github.com/dexrun/dexrun/internal/telemetry/metrics"
)

const version = "0.3.0"

var (
	flagConfig   string
	flagLogLevel string
	flagRedis    string
)

var rootCmd = &cobra.Command{
	Use:   "dexrun",
	Short: "dexrun on-chain trading agent",
	Long: `dexrun evaluates candidate token trades against composite risk and
opportunity scores and manages open positions with stop-loss, trailing-stop,
and staged profit-taking.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(flagLogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", flagLogLevel, err)
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dexrun version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dexrun v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to strategy YAML (defaults built in)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagRedis, "redis", "", "Redis address for the metric cache (optional)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(gasCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// engine bundles the wired components. The offline fixture provider stands in
// for the real RPC and market-data collaborators.
type engine struct {
	cfg       *config.Config
	data      providers.MarketDataProvider
	scorer    *opportunity.Scorer
	assessor  *risk.Assessor
	detector  *risk.Detector
	gasQuotes *gas.Strategy
	positions *position.Manager
	orch      *strategy.Orchestrator
}

func newEngine() (*engine, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	offline := providers.NewOfflineProvider()

	var data providers.MarketDataProvider = providers.NewGuardedMarketData(offline)
	if flagRedis != "" {
		data = providers.NewCachedMarketData(data, providers.NewRedisMetricCache(flagRedis), 30*time.Second)
	}
	chain := providers.NewGuardedChainReader(offline)

	positions := position.NewManager(cfg.Position, offline)
	portfolio := risk.NewPortfolioTracker(positions, cfg.Trading.MaxInvestmentUSD*10, cfg.Trading.MaxInvestmentUSD)
	assessor := risk.NewAssessor(data, portfolio, cfg.Risk, cfg.Trading)
	detector := risk.NewDetector(data, cfg.Manipulation)
	scorer := opportunity.NewScorer(data, assessor, positions, cfg.Opportunity)
	gasQuotes := gas.NewStrategy(chain, cfg.Gas)

	telemetry := metrics.NewRegistry()
	telemetry.Register(prometheus.DefaultRegisterer)
	orch := strategy.New(cfg, scorer, assessor, detector, gasQuotes, positions, offline, telemetry, "0xdexrun")

	return &engine{
		cfg:       cfg,
		data:      data,
		scorer:    scorer,
		assessor:  assessor,
		detector:  detector,
		gasQuotes: gasQuotes,
		positions: positions,
		orch:      orch,
	}, nil
}

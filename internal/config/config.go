// Package config loads the immutable strategy configuration. The Config value
// is constructed once at process start, validated, and passed explicitly to
// every component constructor; nothing in this repository reads it through
// global state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dexrun/dexrun/internal/errs"
)

// Config is the top-level strategy configuration.
type Config struct {
	Trading      TradingConfig      `yaml:"trading"`
	Opportunity  OpportunityConfig  `yaml:"opportunity"`
	Risk         RiskConfig         `yaml:"risk"`
	Manipulation ManipulationConfig `yaml:"manipulation"`
	Gas          GasConfig          `yaml:"gas"`
	Position     PositionConfig     `yaml:"position"`
}

// StepRule maps a descending score threshold to a value. Lookup selects the
// largest threshold not exceeding the score.
type StepRule struct {
	MinScore float64 `yaml:"min_score"`
	Value    float64 `yaml:"value"`
}

// TradingConfig holds position sizing and execution limits.
type TradingConfig struct {
	MaxInvestmentUSD  float64    `yaml:"max_investment_usd"`
	BaseSizeUSD       float64    `yaml:"base_size_usd"`
	MaxSlippagePct    float64    `yaml:"max_slippage_pct"`
	SafetyMultipliers []StepRule `yaml:"safety_multipliers"`
	ProfitTargets     []StepRule `yaml:"profit_targets"` // take-profit % by opportunity score
}

// OpportunityConfig holds the opportunity scoring weights and entry threshold.
// Scores are on a 0-100 scale.
type OpportunityConfig struct {
	MinWeightedScore float64            `yaml:"min_weighted_score"`
	Weights          map[string]float64 `yaml:"weights"` // market, technical, momentum, safety
}

// RiskConfig holds risk scoring weights and thresholds. Risk scores are on a
// 0-1 scale where 1 is maximum risk.
type RiskConfig struct {
	MaxRiskScore     float64            `yaml:"max_risk_score"`
	Weights          map[string]float64 `yaml:"weights"` // token, market, position, portfolio
	FactorWarnings   map[string]float64 `yaml:"factor_warnings"`
	MonitorMedium    float64            `yaml:"monitor_medium"`
	MonitorHigh      float64            `yaml:"monitor_high"`
	MonitorCritical  float64            `yaml:"monitor_critical"`
	HistoryRetention time.Duration      `yaml:"history_retention"`
}

// ManipulationConfig holds the manipulation detector weights and thresholds.
type ManipulationConfig struct {
	MaxScore          float64            `yaml:"max_score"`
	Weights           map[string]float64 `yaml:"weights"` // price, volume, liquidity, trading, contract
	WarningThresholds map[string]float64 `yaml:"warning_thresholds"`
}

// GasConfig holds gas pricing parameters. Prices are in wei.
type GasConfig struct {
	MaxGasPrice      float64       `yaml:"max_gas_price"`
	GasLimitCeiling  uint64        `yaml:"gas_limit_ceiling"`
	UpdateInterval   time.Duration `yaml:"update_interval"`
	HistoryRetention time.Duration `yaml:"history_retention"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	PriorityBlocks   int           `yaml:"priority_blocks"`
}

// LadderRung is one rung of a staged-exit ladder: at GainPct unrealized gain,
// exit PortionPct of the position.
type LadderRung struct {
	GainPct    float64 `yaml:"gain_pct"`
	PortionPct float64 `yaml:"portion_pct"`
}

// PositionConfig holds position lifecycle defaults.
type PositionConfig struct {
	UpdateInterval      time.Duration `yaml:"update_interval"`
	StopLossPct         float64       `yaml:"stop_loss_pct"`
	TrailingStop        bool          `yaml:"trailing_stop"`
	TrailingDistancePct float64       `yaml:"trailing_distance_pct"`
	ProfitLock          []LadderRung  `yaml:"profit_lock"` // portions of remaining
	ScaleOut            []LadderRung  `yaml:"scale_out"`   // portions of original
}

// Default returns the production configuration.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			MaxInvestmentUSD: 10,
			BaseSizeUSD:      10,
			MaxSlippagePct:   2,
			SafetyMultipliers: []StepRule{
				{MinScore: 90, Value: 1.0},
				{MinScore: 80, Value: 0.8},
				{MinScore: 70, Value: 0.6},
				{MinScore: 0, Value: 0.4},
			},
			ProfitTargets: []StepRule{
				{MinScore: 90, Value: 30},
				{MinScore: 80, Value: 25},
				{MinScore: 70, Value: 20},
				{MinScore: 0, Value: 15},
			},
		},
		Opportunity: OpportunityConfig{
			MinWeightedScore: 75,
			Weights: map[string]float64{
				"market":    0.30,
				"technical": 0.25,
				"momentum":  0.25,
				"safety":    0.20,
			},
		},
		Risk: RiskConfig{
			MaxRiskScore: 0.7,
			Weights: map[string]float64{
				"token":     0.30,
				"market":    0.25,
				"position":  0.25,
				"portfolio": 0.20,
			},
			FactorWarnings: map[string]float64{
				"token":     0.7,
				"market":    0.7,
				"position":  0.6,
				"portfolio": 0.6,
			},
			MonitorMedium:    0.5,
			MonitorHigh:      0.7,
			MonitorCritical:  0.8,
			HistoryRetention: 24 * time.Hour,
		},
		Manipulation: ManipulationConfig{
			MaxScore: 0.6,
			Weights: map[string]float64{
				"price":     1.5,
				"volume":    1.2,
				"liquidity": 1.3,
				"trading":   1.0,
				"contract":  1.4,
			},
			WarningThresholds: map[string]float64{
				"price":     0.7,
				"volume":    0.7,
				"liquidity": 0.8,
				"trading":   0.7,
				"contract":  0.8,
			},
		},
		Gas: GasConfig{
			MaxGasPrice:      10e9, // 10 gwei
			GasLimitCeiling:  300000,
			UpdateInterval:   15 * time.Second,
			HistoryRetention: time.Hour,
			PollInterval:     15 * time.Second,
			PriorityBlocks:   10,
		},
		Position: PositionConfig{
			UpdateInterval:      15 * time.Second,
			StopLossPct:         10,
			TrailingStop:        true,
			TrailingDistancePct: 5,
			ProfitLock: []LadderRung{
				{GainPct: 10, PortionPct: 25},
				{GainPct: 20, PortionPct: 50},
				{GainPct: 30, PortionPct: 75},
			},
			ScaleOut: []LadderRung{
				{GainPct: 10, PortionPct: 25},
				{GainPct: 20, PortionPct: 50},
				{GainPct: 30, PortionPct: 25},
			},
		},
	}
}

// Load reads a YAML file over the defaults. Missing keys keep default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make scoring or the position
// lifecycle undefined.
func (c *Config) Validate() error {
	if sumWeights(c.Opportunity.Weights) <= 0 {
		return fmt.Errorf("%w: opportunity weights sum to zero", errs.ErrInvalidConfig)
	}
	if sumWeights(c.Risk.Weights) <= 0 {
		return fmt.Errorf("%w: risk weights sum to zero", errs.ErrInvalidConfig)
	}
	if sumWeights(c.Manipulation.Weights) <= 0 {
		return fmt.Errorf("%w: manipulation weights sum to zero", errs.ErrInvalidConfig)
	}
	for name, w := range c.Risk.Weights {
		if w < 0 {
			return fmt.Errorf("%w: negative risk weight %s", errs.ErrInvalidConfig, name)
		}
	}
	if !hasFloorRule(c.Trading.SafetyMultipliers) {
		return fmt.Errorf("%w: safety multipliers need a min_score 0 floor", errs.ErrInvalidConfig)
	}
	if !hasFloorRule(c.Trading.ProfitTargets) {
		return fmt.Errorf("%w: profit targets need a min_score 0 floor", errs.ErrInvalidConfig)
	}
	if err := ValidateLadder(c.Position.ScaleOut); err != nil {
		return err
	}
	// Profit-lock portions apply to the remaining amount, so only the rung
	// shape is checked; their sum may legitimately exceed 100.
	if err := validateRungShape(c.Position.ProfitLock); err != nil {
		return err
	}
	if c.Position.UpdateInterval <= 0 {
		return fmt.Errorf("%w: position update interval must be positive", errs.ErrInvalidConfig)
	}
	if c.Gas.UpdateInterval <= 0 || c.Gas.PollInterval <= 0 {
		return fmt.Errorf("%w: gas intervals must be positive", errs.ErrInvalidConfig)
	}
	if c.Gas.MaxGasPrice <= 0 {
		return fmt.Errorf("%w: max gas price must be positive", errs.ErrInvalidConfig)
	}
	return nil
}

// ValidateLadder checks that rungs ascend by gain and that the exit portions
// stay within a whole position. Scale-out portions are percentages of the
// original size, so their sum is capped at 100.
func ValidateLadder(rungs []LadderRung) error {
	if err := validateRungShape(rungs); err != nil {
		return err
	}
	total := 0.0
	for _, r := range rungs {
		total += r.PortionPct
	}
	if total > 100 {
		return fmt.Errorf("%w: ladder portions sum to %.1f%%, above 100%%", errs.ErrInvalidConfig, total)
	}
	return nil
}

func validateRungShape(rungs []LadderRung) error {
	prevGain := -1.0
	for _, r := range rungs {
		if r.GainPct <= prevGain {
			return fmt.Errorf("%w: ladder gains must ascend", errs.ErrInvalidConfig)
		}
		prevGain = r.GainPct
		if r.PortionPct <= 0 || r.PortionPct > 100 {
			return fmt.Errorf("%w: ladder portion %.1f%% out of range", errs.ErrInvalidConfig, r.PortionPct)
		}
	}
	return nil
}

func sumWeights(weights map[string]float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return total
}

func hasFloorRule(rules []StepRule) bool {
	for _, r := range rules {
		if r.MinScore == 0 {
			return true
		}
	}
	return false
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 75.0, cfg.Opportunity.MinWeightedScore)
	assert.Equal(t, 0.7, cfg.Risk.MaxRiskScore)
	assert.Equal(t, 0.6, cfg.Manipulation.MaxScore)
	assert.Equal(t, 15*time.Second, cfg.Position.UpdateInterval)
	assert.Equal(t, 24*time.Hour, cfg.Risk.HistoryRetention)
}

func TestDefaultLaddersStayWithinPosition(t *testing.T) {
	cfg := Default()

	total := 0.0
	for _, rung := range cfg.Position.ScaleOut {
		total += rung.PortionPct
	}
	assert.LessOrEqual(t, total, 100.0)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero opportunity weights", func(c *Config) { c.Opportunity.Weights = map[string]float64{} }},
		{"negative risk weight", func(c *Config) { c.Risk.Weights["token"] = -0.1 }},
		{"no safety multiplier floor", func(c *Config) {
			c.Trading.SafetyMultipliers = []StepRule{{MinScore: 90, Value: 1.0}}
		}},
		{"scale-out sum above 100", func(c *Config) {
			c.Position.ScaleOut = []LadderRung{
				{GainPct: 10, PortionPct: 60},
				{GainPct: 20, PortionPct: 60},
			}
		}},
		{"non-ascending ladder gains", func(c *Config) {
			c.Position.ScaleOut = []LadderRung{
				{GainPct: 20, PortionPct: 25},
				{GainPct: 10, PortionPct: 25},
			}
		}},
		{"zero ladder portion", func(c *Config) {
			c.Position.ProfitLock = []LadderRung{{GainPct: 10, PortionPct: 0}}
		}},
		{"non-positive position interval", func(c *Config) { c.Position.UpdateInterval = 0 }},
		{"non-positive max gas price", func(c *Config) { c.Gas.MaxGasPrice = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestProfitLockPortionsMayExceedHundred(t *testing.T) {
	// Portions of the remaining amount compound, so 25+50+75 is legitimate.
	cfg := Default()
	total := 0.0
	for _, rung := range cfg.Position.ProfitLock {
		total += rung.PortionPct
	}
	assert.Greater(t, total, 100.0)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	data := []byte(`
trading:
  base_size_usd: 25
risk:
  max_risk_score: 0.5
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.Trading.BaseSizeUSD)
	assert.Equal(t, 0.5, cfg.Risk.MaxRiskScore)
	// Untouched keys keep defaults.
	assert.Equal(t, 75.0, cfg.Opportunity.MinWeightedScore)
	assert.Equal(t, 15*time.Second, cfg.Gas.UpdateInterval)
}

func TestLoadRejectsInvalidOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gas:\n  max_gas_price: -1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

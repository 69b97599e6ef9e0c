// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir       string // Base directory for all databases, always absolute
	Port          int
	DevMode       bool
	LogLevel      string
	OptimizerURL  string
	MarketDataURL string
	ClientTimeout time.Duration // per external HTTP round trip

	Risk RiskConfig
	Tax  TaxConfig
}

// RiskConfig holds the binding risk-gate thresholds. Defaults match the
// standard gate; overrides come from the environment.
type RiskConfig struct {
	ESConfidence       float64
	ESLimit            float64
	LiquidityFloor     float64
	ConcentrationLimit float64
	CorrelationCeiling float64
	CorrelationTopN    int
	// HoldingsMaxAge bounds how old reported fund holdings may be before
	// look-through degrades to an opaque node.
	HoldingsMaxAge time.Duration
}

// TaxConfig holds tax-lot accounting knobs.
type TaxConfig struct {
	// LongTermThresholdDays is the holding period at or below which a gain
	// is short-term, measured from the acquisition date.
	LongTermThresholdDays int
	// WashSaleWindowDays is each side of the wash-sale window.
	WashSaleWindowDays int
	// ShortTermRate and LongTermRate are the marginal rates the TLH scorer
	// uses to value a harvested loss.
	ShortTermRate float64
	LongTermRate  float64
	// EquivalenceClasses groups substantially identical securities for
	// wash-sale matching, as comma-separated groups of colon-separated ids,
	// e.g. "SPY:VOO:IVV,QQQ:QQQM".
	EquivalenceClasses [][]string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("CUSTODIAN_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		Port:          getEnvAsInt("PORT", 8001),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		OptimizerURL:  getEnv("OPTIMIZER_URL", "http://localhost:9000"),
		MarketDataURL: getEnv("MARKETDATA_URL", "http://localhost:9100"),
		ClientTimeout: getEnvAsDuration("CLIENT_TIMEOUT", 30*time.Second),
		Risk: RiskConfig{
			ESConfidence:       getEnvAsFloat("RISK_ES_CONFIDENCE", 0.975),
			ESLimit:            getEnvAsFloat("RISK_ES_LIMIT", 0.025),
			LiquidityFloor:     getEnvAsFloat("RISK_LIQUIDITY_FLOOR", 0.3),
			ConcentrationLimit: getEnvAsFloat("RISK_CONCENTRATION_LIMIT", 0.20),
			CorrelationCeiling: getEnvAsFloat("RISK_CORRELATION_CEILING", 0.8),
			CorrelationTopN:    getEnvAsInt("RISK_CORRELATION_TOP_N", 10),
			HoldingsMaxAge:     getEnvAsDuration("RISK_HOLDINGS_MAX_AGE", 7*24*time.Hour),
		},
		Tax: TaxConfig{
			LongTermThresholdDays: getEnvAsInt("TAX_LONG_TERM_THRESHOLD_DAYS", 365),
			WashSaleWindowDays:    getEnvAsInt("TAX_WASH_SALE_WINDOW_DAYS", 30),
			ShortTermRate:         getEnvAsFloat("TAX_SHORT_TERM_RATE", 0.37),
			LongTermRate:          getEnvAsFloat("TAX_LONG_TERM_RATE", 0.20),
			EquivalenceClasses:    parseGroups(getEnv("TAX_EQUIVALENCE_CLASSES", "")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Risk.ESConfidence <= 0 || c.Risk.ESConfidence >= 1 {
		return fmt.Errorf("ES confidence must be in (0, 1), got %v", c.Risk.ESConfidence)
	}
	if c.Risk.ESLimit <= 0 {
		return fmt.Errorf("ES limit must be positive, got %v", c.Risk.ESLimit)
	}
	if c.Risk.ConcentrationLimit <= 0 || c.Risk.ConcentrationLimit > 1 {
		return fmt.Errorf("concentration limit must be in (0, 1], got %v", c.Risk.ConcentrationLimit)
	}
	if c.Tax.LongTermThresholdDays <= 0 {
		return fmt.Errorf("long-term threshold must be positive, got %d", c.Tax.LongTermThresholdDays)
	}
	if c.Tax.WashSaleWindowDays < 0 {
		return fmt.Errorf("wash-sale window cannot be negative, got %d", c.Tax.WashSaleWindowDays)
	}
	return nil
}

// DatabasePath returns the path of a named database under the data directory.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// parseGroups splits "A:B:C,D:E" into [][]string{{A,B,C},{D,E}}, skipping
// empty fragments and single-member groups.
func parseGroups(raw string) [][]string {
	if raw == "" {
		return nil
	}
	var groups [][]string
	for _, group := range strings.Split(raw, ",") {
		var members []string
		for _, member := range strings.Split(group, ":") {
			if trimmed := strings.TrimSpace(member); trimmed != "" {
				members = append(members, trimmed)
			}
		}
		if len(members) > 1 {
			groups = append(groups, members)
		}
	}
	return groups
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package app wires the whole service together: configuration, logging,
// tracing, storage, the provider registry and the HTTP surface.
package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/quorumlabs/quorum/internal/consensus"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	VaultEnabled bool

	// Debate defaults; per-request options override them.
	MaxRounds            int
	Protocol             string
	Decompose            bool
	Panel                []string
	ProposerStrategy     string
	ChallengeFramings    []string
	MinChallengers       int
	ConvergenceThreshold float64
	VotingAggregation    string
	SynthesisStrategy    string
	DecomposeMinSubtasks int
	DecomposeMaxSubtasks int
	MaxTokens            int

	// Budgets.
	CostWarnUSD      float64
	CostHardLimitUSD float64

	// Tool use.
	ToolsEnabled  bool
	ToolMaxRounds int

	ProviderTimeoutSecs int

	// Security & hardening.
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing.
	OTelEnabled  bool
	OTelEndpoint string

	// Temporal workflow engine.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:   getEnv("QUORUM_LISTEN_ADDR", ":8080"),
		LogLevel:     getEnv("QUORUM_LOG_LEVEL", "info"),
		DBDSN:        getEnv("QUORUM_DB_DSN", "file:quorum.sqlite"),
		VaultEnabled: getEnvBool("QUORUM_VAULT_ENABLED", false),

		MaxRounds:            getEnvInt("QUORUM_MAX_ROUNDS", 3),
		Protocol:             getEnv("QUORUM_PROTOCOL", consensus.ProtocolConsensus),
		Decompose:            getEnvBool("QUORUM_DECOMPOSE", false),
		Panel:                getEnvStringSlice("QUORUM_PANEL", nil),
		ProposerStrategy:     getEnv("QUORUM_PROPOSER_STRATEGY", "top-cost"),
		ChallengeFramings:    getEnvStringSlice("QUORUM_CHALLENGE_FRAMINGS", nil),
		MinChallengers:       getEnvInt("QUORUM_MIN_CHALLENGERS", 2),
		ConvergenceThreshold: getEnvFloat("QUORUM_CONVERGENCE_THRESHOLD", consensus.DefaultConvergenceThreshold),
		VotingAggregation:    getEnv("QUORUM_VOTING_AGGREGATION", "majority"),
		SynthesisStrategy:    getEnv("QUORUM_SYNTHESIS_STRATEGY", consensus.SynthesisMerge),
		DecomposeMinSubtasks: getEnvInt("QUORUM_DECOMPOSE_MIN_SUBTASKS", 2),
		DecomposeMaxSubtasks: getEnvInt("QUORUM_DECOMPOSE_MAX_SUBTASKS", 7),
		MaxTokens:            getEnvInt("QUORUM_MAX_TOKENS", 4096),

		CostWarnUSD:      getEnvFloat("QUORUM_COST_WARN_USD", 0),
		CostHardLimitUSD: getEnvFloat("QUORUM_COST_HARD_LIMIT_USD", 0),

		ToolsEnabled:  getEnvBool("QUORUM_TOOLS_ENABLED", false),
		ToolMaxRounds: getEnvInt("QUORUM_TOOL_MAX_ROUNDS", 5),

		ProviderTimeoutSecs: getEnvInt("QUORUM_PROVIDER_TIMEOUT_SECS", 120),

		CORSOrigins:    getEnvStringSlice("QUORUM_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvFloat("QUORUM_RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("QUORUM_RATE_LIMIT_BURST", 30),

		OTelEnabled:  getEnvBool("QUORUM_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("QUORUM_OTEL_ENDPOINT", "localhost:4318"),

		TemporalEnabled:   getEnvBool("QUORUM_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("QUORUM_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("QUORUM_TEMPORAL_NAMESPACE", "quorum"),
		TemporalTaskQueue: getEnv("QUORUM_TEMPORAL_TASK_QUEUE", "quorum-threads"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects obviously invalid settings before anything starts.
func (c Config) Validate() error {
	if c.MaxRounds < 1 || c.MaxRounds > 5 {
		return fmt.Errorf("QUORUM_MAX_ROUNDS must be between 1 and 5, got %d", c.MaxRounds)
	}
	switch c.Protocol {
	case consensus.ProtocolConsensus, consensus.ProtocolVoting, consensus.ProtocolAuto:
	default:
		return fmt.Errorf("QUORUM_PROTOCOL must be consensus, voting or auto, got %q", c.Protocol)
	}
	if c.MinChallengers < 1 {
		return fmt.Errorf("QUORUM_MIN_CHALLENGERS must be >= 1, got %d", c.MinChallengers)
	}
	if c.ConvergenceThreshold <= 0 || c.ConvergenceThreshold > 1 {
		return fmt.Errorf("QUORUM_CONVERGENCE_THRESHOLD must be in (0, 1], got %f", c.ConvergenceThreshold)
	}
	if c.VotingAggregation != "majority" && c.VotingAggregation != "weighted" {
		return fmt.Errorf("QUORUM_VOTING_AGGREGATION must be majority or weighted, got %q", c.VotingAggregation)
	}
	if c.DecomposeMinSubtasks < 1 || c.DecomposeMaxSubtasks < c.DecomposeMinSubtasks {
		return fmt.Errorf("decompose subtask bounds invalid: min %d max %d", c.DecomposeMinSubtasks, c.DecomposeMaxSubtasks)
	}
	if c.CostWarnUSD < 0 || c.CostHardLimitUSD < 0 {
		return fmt.Errorf("cost limits must be >= 0")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("QUORUM_RATE_LIMIT_RPS must be > 0, got %f", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("QUORUM_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("QUORUM_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	return nil
}

// Consensus maps the service config onto orchestrator defaults.
func (c Config) Consensus() consensus.Config {
	cfg := consensus.DefaultConfig()
	cfg.MaxRounds = c.MaxRounds
	cfg.Protocol = c.Protocol
	cfg.Decompose = c.Decompose
	cfg.Panel = c.Panel
	cfg.ProposerStrategy = c.ProposerStrategy
	if len(c.ChallengeFramings) > 0 {
		cfg.ChallengeFramings = c.ChallengeFramings
	}
	cfg.MinChallengers = c.MinChallengers
	cfg.ConvergenceThreshold = c.ConvergenceThreshold
	cfg.SynthesisStrategy = c.SynthesisStrategy
	cfg.DecomposeMinSubtasks = c.DecomposeMinSubtasks
	cfg.DecomposeMaxSubtasks = c.DecomposeMaxSubtasks
	cfg.CostWarnUSD = c.CostWarnUSD
	cfg.CostHardLimitUSD = c.CostHardLimitUSD
	cfg.MaxTokens = c.MaxTokens
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}

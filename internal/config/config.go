package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURLs           []string
	RPCRateLimit      float64
	Contract          string
	PrivateKey        string
	BatchInterval     time.Duration
	MaxBatchSize      int
	MaxAttempts       int
	MaxWindowAttempts int
	FeeCeilingGwei    int64
	ConfirmTimeout    time.Duration
	PollInterval      time.Duration
	PGDSN             string
	HistoryPath       string
	DeadLetterPath    string
	WebhookURL        string
	MetricsAddr       string
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TIPRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc-rate-limit", 10.0)
	v.SetDefault("batch-interval", 30*time.Second)
	v.SetDefault("max-batch-size", 10)
	v.SetDefault("max-attempts", 5)
	v.SetDefault("max-window-attempts", 3)
	v.SetDefault("fee-ceiling-gwei", int64(50))
	v.SetDefault("confirm-timeout", 2*time.Minute)
	v.SetDefault("poll-interval", 3*time.Second)
	v.SetDefault("history", "./data/tips.jsonl")
	v.SetDefault("dead-letter", "./data/dead_letter.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURLs:           getStringSlice(v, "rpc"),
		RPCRateLimit:      v.GetFloat64("rpc-rate-limit"),
		Contract:          v.GetString("contract"),
		PrivateKey:        v.GetString("private-key"),
		BatchInterval:     v.GetDuration("batch-interval"),
		MaxBatchSize:      v.GetInt("max-batch-size"),
		MaxAttempts:       v.GetInt("max-attempts"),
		MaxWindowAttempts: v.GetInt("max-window-attempts"),
		FeeCeilingGwei:    v.GetInt64("fee-ceiling-gwei"),
		ConfirmTimeout:    v.GetDuration("confirm-timeout"),
		PollInterval:      v.GetDuration("poll-interval"),
		PGDSN:             v.GetString("pg-dsn"),
		HistoryPath:       v.GetString("history"),
		DeadLetterPath:    v.GetString("dead-letter"),
		WebhookURL:        v.GetString("webhook-url"),
		MetricsAddr:       v.GetString("metrics-addr"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

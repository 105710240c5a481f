package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// AnswerPolicy decides what a fully failed media acquisition does while
// answering: "degrade" keeps the call track-less, "deny" falls back to a deny.
type AnswerPolicy string

const (
	AnswerDegrade AnswerPolicy = "degrade"
	AnswerDeny    AnswerPolicy = "deny"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	RelayURL     string        `mapstructure:"relay_url"`
	Username     string        `mapstructure:"username"`
	STUNServers  []string      `mapstructure:"stun_servers"`
	AnswerPolicy AnswerPolicy  `mapstructure:"answer_policy"`
	RingTimeout  time.Duration `mapstructure:"ring_timeout"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("static_path", "./web")
	v.SetDefault("relay_url", "ws://localhost:8080/ws")
	v.SetDefault("username", "guest")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("answer_policy", string(AnswerDeny))
	v.SetDefault("ring_timeout", "45s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.AnswerPolicy != AnswerDegrade && cfg.AnswerPolicy != AnswerDeny {
		return nil, fmt.Errorf("unknown answer_policy: %q", cfg.AnswerPolicy)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Relay: %s\n", cfg.Mode, cfg.Port, cfg.RelayURL)
	return &cfg, nil
}

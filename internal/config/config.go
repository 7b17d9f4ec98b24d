package config

import (
	"flag"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type Config struct {
	Addr          string        `mapstructure:"ADDR"`
	DatabaseDSN   string        `mapstructure:"DB_DSN"`
	MongoURI      string        `mapstructure:"MONGO_URI"`
	MongoDatabase string        `mapstructure:"MONGO_DATABASE"`
	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	TokenTTL      time.Duration `mapstructure:"TOKEN_TTL"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	KafkaBrokers  []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic    string        `mapstructure:"KAFKA_TOPIC"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	AllowedOrigin string        `mapstructure:"ALLOWED_ORIGIN"`
	EventTimeout  time.Duration `mapstructure:"EVENT_TIMEOUT"`
}

var keys = []string{
	"ADDR", "DB_DSN", "MONGO_URI", "MONGO_DATABASE", "JWT_SECRET", "TOKEN_TTL",
	"REDIS_ADDR", "KAFKA_BROKERS", "KAFKA_TOPIC", "LOG_LEVEL", "ALLOWED_ORIGIN", "EVENT_TIMEOUT",
}

func defaults() Config {
	return Config{
		Addr:          ":8080",
		MongoDatabase: "chat",
		TokenTTL:      72 * time.Hour,
		KafkaTopic:    "chat-events",
		LogLevel:      "info",
		AllowedOrigin: "*",
		EventTimeout:  10 * time.Second,
	}
}

// Load reads the environment through lookup (os.LookupEnv in production),
// then lets command line flags override the listen address.
func Load(args []string, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw := make(map[string]any)
	for _, k := range keys {
		if v, ok := lookup(k); ok && v != "" {
			raw[k] = v
		}
	}

	cfg := defaults()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "build config decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Addr, "http service address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Addr = *addr

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.DatabaseDSN == "":
		return errors.New("DB_DSN is not set")
	case c.MongoURI == "":
		return errors.New("MONGO_URI is not set")
	case c.JWTSecret == "":
		return errors.New("JWT_SECRET is not set")
	case c.TokenTTL <= 0:
		return errors.New("TOKEN_TTL must be positive")
	case c.EventTimeout <= 0:
		return errors.New("EVENT_TIMEOUT must be positive")
	}
	return nil
}

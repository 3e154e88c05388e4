package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	BindAddress string `envconfig:"BIND_ADDRESS" default:"0.0.0.0"`
	StaticDir   string `envconfig:"STATIC_DIR" default:"public"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Empty disables the upstream-lookup cache; the server then calls the
	// question and song APIs directly every time.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	YouTubeAPIKey string `envconfig:"YOUTUBE_API_KEY"`

	MaxPlayers        int           `envconfig:"MAX_PLAYERS" default:"10"`
	QuestionTimeLimit int           `envconfig:"QUESTION_TIME_LIMIT" default:"30"`
	LatencyBuffer     time.Duration `envconfig:"LATENCY_BUFFER" default:"2s"`
	ScoringDelay      time.Duration `envconfig:"SCORING_DELAY" default:"3s"`
}

func Load() (*Config, error) {
	// A missing .env file is fine; real env vars still apply.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func InitRedis(cfg *Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	TickInterval   time.Duration `env:"PONG_TICK_INTERVAL" envDefault:"16ms"`
	ScoreLimit     int           `env:"PONG_SCORE_LIMIT" envDefault:"5"`
	DefaultSpeed   float64       `env:"PONG_DEFAULT_SPEED" envDefault:"1"`
	MinSpeed       float64       `env:"PONG_MIN_SPEED" envDefault:"1"`
	MaxSpeed       float64       `env:"PONG_MAX_SPEED" envDefault:"3"`
	StartDelay     time.Duration `env:"PONG_START_DELAY" envDefault:"1s"`
	ConfigTimeout  time.Duration `env:"PONG_CONFIG_TIMEOUT" envDefault:"30s"`
	EndGrace       time.Duration `env:"PONG_END_GRACE" envDefault:"3s"`
	IDCooldown     time.Duration `env:"PONG_ID_COOLDOWN" envDefault:"30s"`
	InviteTimeout  time.Duration `env:"PONG_INVITE_TIMEOUT" envDefault:"30s"`
	InviteRetained time.Duration `env:"PONG_INVITE_RETENTION" envDefault:"1m"`

	SendBuffer     int           `env:"PONG_SEND_BUFFER" envDefault:"64"`
	RateLimit      int           `env:"PONG_RATE_LIMIT" envDefault:"120"`
	RateWindow     time.Duration `env:"PONG_RATE_WINDOW" envDefault:"1s"`
	IdleTimeout    time.Duration `env:"PONG_IDLE_TIMEOUT" envDefault:"2m"`
	AllowedOrigins []string      `env:"PONG_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	JWTSecret string `env:"PONG_JWT_SECRET"`
	JWTIssuer string `env:"PONG_JWT_ISSUER"`

	DatabaseURL     string        `env:"DATABASE_URL"`
	ResultRetention time.Duration `env:"PONG_RESULT_RETENTION" envDefault:"720h"`
	RedisURL        string        `env:"REDIS_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("PONG_JWT_SECRET is required")
	}
	if c.TickInterval <= 0 {
		return errors.New("PONG_TICK_INTERVAL must be positive")
	}
	if c.ScoreLimit <= 0 {
		return errors.New("PONG_SCORE_LIMIT must be positive")
	}
	if c.MinSpeed <= 0 || c.MinSpeed > c.MaxSpeed {
		return fmt.Errorf("speed bounds [%v, %v] are invalid", c.MinSpeed, c.MaxSpeed)
	}
	if c.DefaultSpeed < c.MinSpeed || c.DefaultSpeed > c.MaxSpeed {
		return fmt.Errorf("PONG_DEFAULT_SPEED %v is outside [%v, %v]", c.DefaultSpeed, c.MinSpeed, c.MaxSpeed)
	}
	if c.InviteTimeout <= 0 {
		return errors.New("PONG_INVITE_TIMEOUT must be positive")
	}
	if c.SendBuffer <= 0 {
		return errors.New("PONG_SEND_BUFFER must be positive")
	}
	return nil
}

func (c Config) roomConfig() RoomConfig {
	return RoomConfig{
		TickInterval:  c.TickInterval,
		ScoreLimit:    c.ScoreLimit,
		DefaultSpeed:  c.DefaultSpeed,
		MinSpeed:      c.MinSpeed,
		MaxSpeed:      c.MaxSpeed,
		StartDelay:    c.StartDelay,
		ConfigTimeout: c.ConfigTimeout,
		EndGrace:      c.EndGrace,
	}
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

package config

import "time"

// APIConfig holds runtime configuration for the perk API service.
type APIConfig struct {
	Environment    string        `envconfig:"APP_ENV" default:"development"`
	Addr           string        `envconfig:"PERKD_ADDR" default:":8080"`
	LogLevel       string        `envconfig:"PERKD_LOG_LEVEL" default:"info"`
	Store          string        `envconfig:"PERKD_STORE" default:"postgres"`
	DatabaseURL    string        `envconfig:"DATABASE_URL" default:"postgres://perk:perk@db:5432/perkmanager?sslmode=disable"`
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	EventChannel   string        `envconfig:"PERK_EVENT_CHANNEL" default:"perk-events"`
	ExpirySchedule string        `envconfig:"PERK_EXPIRY_SCHEDULE" default:"@hourly"`
	ShutdownGrace  time.Duration `envconfig:"PERKD_SHUTDOWN_GRACE" default:"10s"`
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() (APIConfig, error) {
	var cfg APIConfig
	if err := Load(&cfg); err != nil {
		return APIConfig{}, err
	}
	return cfg, nil
}

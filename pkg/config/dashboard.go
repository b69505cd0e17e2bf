package config

import "time"

// DashboardConfig holds runtime configuration for the web front-end.
type DashboardConfig struct {
	Environment    string        `envconfig:"APP_ENV" default:"development"`
	Addr           string        `envconfig:"DASHBOARD_ADDR" default:":3000"`
	LogLevel       string        `envconfig:"DASHBOARD_LOG_LEVEL" default:"info"`
	APIBaseURL     string        `envconfig:"PERK_API_URL" default:"http://localhost:8080"`
	SessionSecret  string        `envconfig:"SESSION_SECRET"`
	CookieName     string        `envconfig:"SESSION_COOKIE" default:"perk_session"`
	CookieSecure   bool          `envconfig:"SESSION_COOKIE_SECURE" default:"false"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionStore   string        `envconfig:"SESSION_STORE" default:"memory"`
	SweepSchedule  string        `envconfig:"SESSION_SWEEP_SCHEDULE" default:"@every 5m"`
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	EventChannel   string        `envconfig:"PERK_EVENT_CHANNEL" default:"perk-events"`
	RelayEvents    bool          `envconfig:"DASHBOARD_RELAY_EVENTS" default:"false"`
	RequestTimeout time.Duration `envconfig:"DASHBOARD_REQUEST_TIMEOUT" default:"10s"`
	LogoutDelay    time.Duration `envconfig:"PASSWORD_LOGOUT_DELAY" default:"2s"`
}

// LoadDashboardConfig constructs a DashboardConfig from environment variables.
func LoadDashboardConfig() (DashboardConfig, error) {
	var cfg DashboardConfig
	if err := Load(&cfg); err != nil {
		return DashboardConfig{}, err
	}
	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var ErrMisconfigured = errors.New("config: misconfigured")

// DefaultPath is read when CONFIG_PATH is unset. A missing file is fine.
const DefaultPath = "config.yaml"

// Path returns the config file location shared by every command.
func Path() string {
	return envOrDefault("CONFIG_PATH", DefaultPath)
}

type Config struct {
	AppPort     string
	Environment string
	ConfigPath  string

	StoreBackend      string
	RedisURL          string
	RedisPassword     string
	DatabaseDSN       string
	UsersNamespace    string
	SessionsNamespace string

	AllowRegistration    bool
	SessionTTL           time.Duration
	SessionRefreshWindow time.Duration
	MaxSessionsPerUser   int

	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string
	GitHubAPIURL       string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	MicrosoftTenant       string
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftRedirectURL  string

	MetricsEnabled bool
}

// configFile is the YAML schema. Secrets are expected from the environment
// but are accepted here for local runs.
type configFile struct {
	Server struct {
		Port        string `yaml:"port"`
		Environment string `yaml:"environment"`
	} `yaml:"server"`
	Store struct {
		Backend           string `yaml:"backend"`
		RedisURL          string `yaml:"redis_url"`
		DatabaseDSN       string `yaml:"database_dsn"`
		UsersNamespace    string `yaml:"users_namespace"`
		SessionsNamespace string `yaml:"sessions_namespace"`
	} `yaml:"store"`
	Sessions struct {
		TTLDays            int `yaml:"ttl_days"`
		RefreshDays        int `yaml:"refresh_days"`
		MaxSessionsPerUser int `yaml:"max_per_user"`
	} `yaml:"sessions"`
	AllowRegistration *bool `yaml:"allow_registration"`
	Providers         struct {
		GitHub struct {
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			RedirectURL  string `yaml:"redirect_url"`
			APIURL       string `yaml:"api_url"`
		} `yaml:"github"`
		Google struct {
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			RedirectURL  string `yaml:"redirect_url"`
		} `yaml:"google"`
		Microsoft struct {
			Tenant       string `yaml:"tenant"`
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			RedirectURL  string `yaml:"redirect_url"`
		} `yaml:"microsoft"`
	} `yaml:"providers"`
	Metrics struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Load resolves configuration: defaults, then the YAML file at path (if it
// exists), then environment variables.
func Load(path string) (Config, error) {
	cfg := Config{
		AppPort:              "8080",
		Environment:          "development",
		ConfigPath:           path,
		StoreBackend:         BackendMemory,
		UsersNamespace:       "users",
		SessionsNamespace:    "sessions",
		SessionTTL:           30 * 24 * time.Hour,
		SessionRefreshWindow: 15 * 24 * time.Hour,
		MaxSessionsPerUser:   32,
		GitHubRedirectURL:    "http://localhost:8080/login/github/callback",
		MicrosoftTenant:      "common",
		MetricsEnabled:       true,
	}

	var allowRegistration *bool

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			var f configFile
			if err := yaml.Unmarshal(raw, &f); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
			applyFile(&cfg, &f)
			allowRegistration = f.AllowRegistration
		case !errors.Is(err, os.ErrNotExist):
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.AppPort = envOrDefault("APP_PORT", cfg.AppPort)
	cfg.Environment = strings.ToLower(envOrDefault("APP_ENV", cfg.Environment))

	cfg.StoreBackend = strings.ToLower(envOrDefault("STORE_BACKEND", cfg.StoreBackend))
	cfg.RedisURL = envOrDefault("REDIS_URL", envOrDefault("REDIS_ADDR", cfg.RedisURL))
	cfg.RedisPassword = envOrDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.DatabaseDSN = envOrDefault("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.UsersNamespace = envOrDefault("USERS_NAMESPACE", cfg.UsersNamespace)
	cfg.SessionsNamespace = envOrDefault("SESSIONS_NAMESPACE", cfg.SessionsNamespace)

	cfg.SessionTTL = time.Duration(envInt("SESSION_TTL_DAYS", int(cfg.SessionTTL.Hours()/24))) * 24 * time.Hour
	cfg.SessionRefreshWindow = time.Duration(envInt("SESSION_REFRESH_DAYS", int(cfg.SessionRefreshWindow.Hours()/24))) * 24 * time.Hour
	cfg.MaxSessionsPerUser = envInt("MAX_SESSIONS_PER_USER", cfg.MaxSessionsPerUser)

	cfg.GitHubClientID = envOrDefault("GITHUB_CLIENT_ID", cfg.GitHubClientID)
	cfg.GitHubClientSecret = envOrDefault("GITHUB_CLIENT_SECRET", cfg.GitHubClientSecret)
	cfg.GitHubRedirectURL = envOrDefault("GITHUB_REDIRECT_URL", cfg.GitHubRedirectURL)
	cfg.GitHubAPIURL = envOrDefault("GITHUB_API_URL", cfg.GitHubAPIURL)

	cfg.GoogleClientID = envOrDefault("GOOGLE_CLIENT_ID", cfg.GoogleClientID)
	cfg.GoogleClientSecret = envOrDefault("GOOGLE_CLIENT_SECRET", cfg.GoogleClientSecret)
	cfg.GoogleRedirectURL = envOrDefault("GOOGLE_REDIRECT_URL", cfg.GoogleRedirectURL)

	cfg.MicrosoftTenant = envOrDefault("MICROSOFT_TENANT", cfg.MicrosoftTenant)
	cfg.MicrosoftClientID = envOrDefault("MICROSOFT_CLIENT_ID", cfg.MicrosoftClientID)
	cfg.MicrosoftClientSecret = envOrDefault("MICROSOFT_CLIENT_SECRET", cfg.MicrosoftClientSecret)
	cfg.MicrosoftRedirectURL = envOrDefault("MICROSOFT_REDIRECT_URL", cfg.MicrosoftRedirectURL)

	cfg.MetricsEnabled = envBool("METRICS_ENABLED", cfg.MetricsEnabled)

	// registration defaults to off in production
	cfg.AllowRegistration = !cfg.IsProduction()
	if allowRegistration != nil {
		cfg.AllowRegistration = *allowRegistration
	}
	cfg.AllowRegistration = envBool("ALLOW_REGISTRATION", cfg.AllowRegistration)

	return cfg, nil
}

func applyFile(cfg *Config, f *configFile) {
	setString(&cfg.AppPort, f.Server.Port)
	setString(&cfg.Environment, f.Server.Environment)

	setString(&cfg.StoreBackend, f.Store.Backend)
	setString(&cfg.RedisURL, f.Store.RedisURL)
	setString(&cfg.DatabaseDSN, f.Store.DatabaseDSN)
	setString(&cfg.UsersNamespace, f.Store.UsersNamespace)
	setString(&cfg.SessionsNamespace, f.Store.SessionsNamespace)

	if f.Sessions.TTLDays > 0 {
		cfg.SessionTTL = time.Duration(f.Sessions.TTLDays) * 24 * time.Hour
	}
	if f.Sessions.RefreshDays > 0 {
		cfg.SessionRefreshWindow = time.Duration(f.Sessions.RefreshDays) * 24 * time.Hour
	}
	if f.Sessions.MaxSessionsPerUser > 0 {
		cfg.MaxSessionsPerUser = f.Sessions.MaxSessionsPerUser
	}

	gh := f.Providers.GitHub
	setString(&cfg.GitHubClientID, gh.ClientID)
	setString(&cfg.GitHubClientSecret, gh.ClientSecret)
	setString(&cfg.GitHubRedirectURL, gh.RedirectURL)
	setString(&cfg.GitHubAPIURL, gh.APIURL)

	g := f.Providers.Google
	setString(&cfg.GoogleClientID, g.ClientID)
	setString(&cfg.GoogleClientSecret, g.ClientSecret)
	setString(&cfg.GoogleRedirectURL, g.RedirectURL)

	ms := f.Providers.Microsoft
	setString(&cfg.MicrosoftTenant, ms.Tenant)
	setString(&cfg.MicrosoftClientID, ms.ClientID)
	setString(&cfg.MicrosoftClientSecret, ms.ClientSecret)
	setString(&cfg.MicrosoftRedirectURL, ms.RedirectURL)

	if f.Metrics.Enabled != nil {
		cfg.MetricsEnabled = *f.Metrics.Enabled
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func (c Config) MicrosoftEnabled() bool {
	return c.MicrosoftClientID != "" && c.MicrosoftClientSecret != "" && c.MicrosoftRedirectURL != ""
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var problems []string

	switch c.StoreBackend {
	case BackendMemory:
		if c.IsProduction() {
			problems = append(problems, "memory store backend is not allowed in production")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if c.DatabaseDSN == "" {
			problems = append(problems, "DATABASE_DSN is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	if c.UsersNamespace == "" || c.SessionsNamespace == "" || c.UsersNamespace == c.SessionsNamespace {
		problems = append(problems, "users and sessions namespaces must be set and distinct")
	}
	if c.SessionTTL <= 0 {
		problems = append(problems, "SESSION_TTL_DAYS must be positive")
	}
	if c.SessionRefreshWindow <= 0 || c.SessionRefreshWindow > c.SessionTTL {
		problems = append(problems, "SESSION_REFRESH_DAYS must be positive and not exceed the session TTL")
	}
	if c.MaxSessionsPerUser <= 0 {
		problems = append(problems, "MAX_SESSIONS_PER_USER must be positive")
	}
	if !c.GitHubEnabled() && !c.GoogleEnabled() && !c.MicrosoftEnabled() {
		problems = append(problems, "no oauth provider configured")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMisconfigured, strings.Join(problems, "; "))
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

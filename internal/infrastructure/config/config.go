package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backend modes.
const (
	BackendLocal  = "local"  // local inference server, HTTP/JSON, model-by-name
	BackendRemote = "remote" // hosted aggregator, HTTPS with bearer auth
)

// Settings is the process-wide configuration resolved from the environment
// at startup. The council roster inside it is only the environment snapshot;
// the live roster is served by Store, which layers the overlay file and API
// updates on top.
type Settings struct {
	Host string
	Port int

	BackendMode    string
	BackendBaseURL string
	BackendAPIKey  string

	CouncilModels []string
	ChairmanModel string

	ModelTimeout    time.Duration
	ForceStreaming  bool
	EnableMarkdown  bool
	EnableDBStorage bool

	Postgres PostgresConfig

	AllowedOrigins []string
	ConfigFile     string

	LogLevel  string
	LogFormat string
}

// PostgresConfig holds connection parameters for the conversation database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// DSN renders the GORM postgres connection string.
func (p PostgresConfig) DSN() string {
	var b strings.Builder
	b.WriteString("host=" + p.Host)
	b.WriteString(" port=" + strconv.Itoa(p.Port))
	b.WriteString(" user=" + p.User)
	if p.Password != "" {
		b.WriteString(" password=" + p.Password)
	}
	b.WriteString(" dbname=" + p.Database)
	b.WriteString(" sslmode=disable")
	return b.String()
}

// Load resolves Settings from the environment. A .env file in the working
// directory is folded in first (missing file is fine); real environment
// variables always win.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	mode := strings.ToLower(v.GetString("BACKEND_MODE"))
	baseURL := v.GetString("BACKEND_BASE_URL")
	if baseURL == "" {
		if mode == BackendRemote {
			baseURL = "https://openrouter.ai/api/v1"
		} else {
			baseURL = "http://localhost:11434"
		}
	}

	cfg := &Settings{
		Host:            v.GetString("HOST"),
		Port:            v.GetInt("PORT"),
		BackendMode:     mode,
		BackendBaseURL:  strings.TrimRight(baseURL, "/"),
		BackendAPIKey:   v.GetString("BACKEND_API_KEY"),
		CouncilModels:   councilModelsFromEnv(v),
		ChairmanModel:   chairmanFromEnv(v),
		ModelTimeout:    time.Duration(v.GetFloat64("MODEL_TIMEOUT") * float64(time.Second)),
		ForceStreaming:  v.GetBool("FORCE_STREAMING"),
		EnableMarkdown:  v.GetBool("ENABLE_MARKDOWN_FORMATTING"),
		EnableDBStorage: v.GetBool("ENABLE_DB_STORAGE"),
		Postgres: PostgresConfig{
			Host:     v.GetString("POSTGRES_HOST"),
			Port:     v.GetInt("POSTGRES_PORT"),
			User:     v.GetString("POSTGRES_USER"),
			Password: v.GetString("POSTGRES_PASSWORD"),
			Database: v.GetString("POSTGRES_DATABASE"),
		},
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		ConfigFile:     v.GetString("CONFIG_FILE"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8000)

	v.SetDefault("BACKEND_MODE", BackendLocal)

	v.SetDefault("MODEL_TIMEOUT", 60.0)
	v.SetDefault("FORCE_STREAMING", false)
	v.SetDefault("ENABLE_MARKDOWN_FORMATTING", true)
	v.SetDefault("ENABLE_DB_STORAGE", false)

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "admin")
	v.SetDefault("POSTGRES_PASSWORD", "")
	v.SetDefault("POSTGRES_DATABASE", "continue")

	v.SetDefault("CONFIG_FILE", "./data/council_config.json")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// councilModelsFromEnv reads the roster from COUNCIL_MODELS (comma-separated)
// or, failing that, from the numbered COUNCILLOR_01..COUNCILLOR_04 variables.
func councilModelsFromEnv(v *viper.Viper) []string {
	if raw := v.GetString("COUNCIL_MODELS"); raw != "" {
		return splitList(raw)
	}
	var models []string
	for _, key := range []string{"COUNCILLOR_01", "COUNCILLOR_02", "COUNCILLOR_03", "COUNCILLOR_04"} {
		if m := strings.TrimSpace(v.GetString(key)); m != "" {
			models = append(models, m)
		}
	}
	return models
}

// chairmanFromEnv reads CHAIRMAN_MODEL with CHAIRMAN as the legacy alias.
func chairmanFromEnv(v *viper.Viper) string {
	if m := strings.TrimSpace(v.GetString("CHAIRMAN_MODEL")); m != "" {
		return m
	}
	return strings.TrimSpace(v.GetString("CHAIRMAN"))
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

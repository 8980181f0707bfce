package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigPath is the YAML file read when EDUFLOW_CONFIG is unset.
	ConfigPath    = "config.yaml"
	ConfigPathEnv = "EDUFLOW_CONFIG"

	DefaultSecretKey      = "your-secret-key-change-in-production"
	EnvironmentProduction = "production"

	ProviderGemini       = "gemini"
	ProviderOpenAICompat = "openai-compat"
)

// ErrConfiguration marks configuration the service refuses to start with.
var ErrConfiguration = errors.New("configuration error")

// FileConfig represents configuration loaded from YAML and the environment.
type FileConfig struct {
	AppName                    string   `yaml:"appName"`
	Version                    string   `yaml:"version"`
	Debug                      bool     `yaml:"debug"`
	Port                       string   `yaml:"port"`
	LogLevel                   string   `yaml:"logLevel"`
	DatabaseURL                string   `yaml:"databaseURL"`
	SecretKey                  string   `yaml:"secretKey"`
	Algorithm                  string   `yaml:"algorithm"`
	AccessTokenExpireMinutes   int      `yaml:"accessTokenExpireMinutes"`
	GeminiAPIKey               string   `yaml:"geminiApiKey"`
	GenerationProvider         string   `yaml:"generationProvider"`
	GenerationModel            string   `yaml:"generationModel"`
	GenerationBaseURL          string   `yaml:"generationBaseURL"`
	GenerationAPIKey           string   `yaml:"generationApiKey"`
	GenerationTimeout          string   `yaml:"generationTimeout"`
	AllowedOrigins             []string `yaml:"allowedOrigins"`
	Environment                string   `yaml:"environment"`
	RedisAddr                  string   `yaml:"redisAddr"`
	RedisPassword              string   `yaml:"redisPassword"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	TokenRateLimitPerMinute    int      `yaml:"tokenRateLimitPerMinute"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	MaxUploadBytes             int64    `yaml:"maxUploadBytes"`
}

// Default returns the settings used when neither YAML nor environment set a key.
func Default() FileConfig {
	return FileConfig{
		AppName:                    "EduLearn Platform API",
		Version:                    "1.0.0",
		Port:                       "8000",
		LogLevel:                   "info",
		DatabaseURL:                "sqlite:///./app.db",
		SecretKey:                  DefaultSecretKey,
		Algorithm:                  "HS256",
		AccessTokenExpireMinutes:   30,
		GenerationProvider:         ProviderGemini,
		AllowedOrigins:             []string{"http://localhost:5173", "http://localhost:3000"},
		Environment:                "development",
		RegisterRateLimitPerMinute: 10,
		TokenRateLimitPerMinute:    20,
		MaxUploadBytes:             50 << 20,
	}
}

// Load reads the YAML file at path (EDUFLOW_CONFIG or config.yaml when empty),
// then .env, then environment overrides, and validates the result. A missing
// YAML or .env file is not an error.
func Load(path string) (FileConfig, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%w: load .env: %v", ErrConfiguration, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("APP_NAME", &cfg.AppName)
	setString("VERSION", &cfg.Version)
	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setString("SECRET_KEY", &cfg.SecretKey)
	setString("ALGORITHM", &cfg.Algorithm)
	setString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	setString("GENERATION_PROVIDER", &cfg.GenerationProvider)
	setString("GENERATION_MODEL", &cfg.GenerationModel)
	setString("GENERATION_BASE_URL", &cfg.GenerationBaseURL)
	setString("GENERATION_API_KEY", &cfg.GenerationAPIKey)
	setString("GENERATION_TIMEOUT", &cfg.GenerationTimeout)
	setString("ENVIRONMENT", &cfg.Environment)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)

	if v := os.Getenv("DEBUG"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: DEBUG: %v", ErrConfiguration, err)
		}
		cfg.Debug = b
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"ACCESS_TOKEN_EXPIRE_MINUTES", &cfg.AccessTokenExpireMinutes},
		{"REGISTER_RATE_LIMIT_PER_MINUTE", &cfg.RegisterRateLimitPerMinute},
		{"TOKEN_RATE_LIMIT_PER_MINUTE", &cfg.TokenRateLimitPerMinute},
	}
	for _, item := range ints {
		v := strings.TrimSpace(os.Getenv(item.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrConfiguration, item.key, err)
		}
		*item.dst = n
	}
	if v := strings.TrimSpace(os.Getenv("MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MAX_UPLOAD_BYTES: %v", ErrConfiguration, err)
		}
		cfg.MaxUploadBytes = n
	}
	return nil
}

func validateConfig(cfg FileConfig) error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return fail("port is required")
	}
	switch strings.ToUpper(cfg.Algorithm) {
	case "HS256", "HS384", "HS512":
	default:
		return fail("algorithm %q not supported (HS256, HS384, HS512)", cfg.Algorithm)
	}
	if cfg.AccessTokenExpireMinutes <= 0 {
		return fail("accessTokenExpireMinutes must be > 0")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return fail("secretKey is required")
	}
	switch cfg.GenerationProvider {
	case ProviderGemini:
	case ProviderOpenAICompat:
		if strings.TrimSpace(cfg.GenerationBaseURL) == "" || strings.TrimSpace(cfg.GenerationModel) == "" {
			return fail("openai-compat provider requires GENERATION_BASE_URL and GENERATION_MODEL")
		}
	default:
		return fail("generation provider %q not supported", cfg.GenerationProvider)
	}
	if _, err := ParseGenerationTimeout(cfg.GenerationTimeout); err != nil {
		return fail("%v", err)
	}
	if cfg.MaxUploadBytes <= 0 {
		return fail("maxUploadBytes must be > 0")
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.TokenRateLimitPerMinute < 0 {
		return fail("rate limits must be >= 0")
	}
	if cfg.IsProduction() {
		if cfg.SecretKey == DefaultSecretKey {
			return fail("SECRET_KEY must be changed in production")
		}
		if cfg.GenerationProvider == ProviderGemini && strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return fail("GEMINI_API_KEY is required in production")
		}
	}
	return nil
}

// EffectiveLogLevel is LogLevel, forced to debug when Debug is set.
func (c FileConfig) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

func (c FileConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction)
}

// AccessTokenTTL returns the bearer token lifetime.
func (c FileConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// ParseGenerationTimeout parses the optional generation timeout. Empty means none.
func ParseGenerationTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid generationTimeout duration: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("generationTimeout must be >= 0")
	}
	return d, nil
}

// LogValue renders the effective configuration with secrets redacted.
func (c FileConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("app_name", c.AppName),
		slog.String("version", c.Version),
		slog.String("environment", c.Environment),
		slog.Bool("debug", c.Debug),
		slog.String("port", c.Port),
		slog.String("log_level", c.LogLevel),
		slog.String("database_url", redactDSN(c.DatabaseURL)),
		slog.String("secret_key", redact(c.SecretKey)),
		slog.String("algorithm", c.Algorithm),
		slog.Int("access_token_expire_minutes", c.AccessTokenExpireMinutes),
		slog.String("generation_provider", c.GenerationProvider),
		slog.String("generation_model", c.GenerationModel),
		slog.String("generation_base_url", c.GenerationBaseURL),
		slog.String("gemini_api_key", redact(c.GeminiAPIKey)),
		slog.String("generation_api_key", redact(c.GenerationAPIKey)),
		slog.String("generation_timeout", c.GenerationTimeout),
		slog.Any("allowed_origins", c.AllowedOrigins),
		slog.String("redis_addr", c.RedisAddr),
		slog.Int("register_rate_limit_per_minute", c.RegisterRateLimitPerMinute),
		slog.Int("token_rate_limit_per_minute", c.TokenRateLimitPerMinute),
		slog.Int64("max_upload_bytes", c.MaxUploadBytes),
	)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[redacted]"
}

// redactDSN hides the password portion of a URL-style DSN.
func redactDSN(dsn string) string {
	scheme := strings.Index(dsn, "://")
	at := strings.LastIndex(dsn, "@")
	if scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":[redacted]" + dsn[at:]
	}
	return dsn
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

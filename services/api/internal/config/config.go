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

// ConfigPath is the default config location, overridable with FILEINASNAP_CONFIG.
const ConfigPath = "config.yaml"

const (
	defaultBucket         = "user-files"
	defaultPresignExpiry  = 15 * time.Minute
	defaultMaxUploadBytes = int64(100 << 20)
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	LogFile       string `yaml:"logFile"`
	LogMaxSizeMB  int    `yaml:"logMaxSizeMB"`
	LogMaxBackups int    `yaml:"logMaxBackups"`
	LogMaxAgeDays int    `yaml:"logMaxAgeDays"`

	AuthProvider string `yaml:"authProvider"`
	Auth0Domain  string `yaml:"auth0Domain"`
	SupabaseURL  string `yaml:"supabaseURL"`
	JWKSURL      string `yaml:"jwksURL"`
	JWTIssuer    string `yaml:"jwtIssuer"`
	JWTAudience  string `yaml:"jwtAudience"`
	JWTLeeway    string `yaml:"jwtLeeway"`

	DatabaseURL string `yaml:"databaseURL"`

	StorageDriver    string `yaml:"storageDriver"`
	StorageEndpoint  string `yaml:"storageEndpoint"`
	StorageRegion    string `yaml:"storageRegion"`
	StorageAccessKey string `yaml:"storageAccessKey"`
	StorageSecretKey string `yaml:"storageSecretKey"`
	StorageBucket    string `yaml:"storageBucket"`
	StorageUseSSL    bool   `yaml:"storageUseSSL"`
	PresignExpiry    string `yaml:"presignExpiry"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`

	RedisAddr                     string `yaml:"redisAddr"`
	RedisPassword                 string `yaml:"redisPassword"`
	WriteRateLimitPerMinute       int    `yaml:"writeRateLimitPerMinute"`
	AuthFailureRateLimitPerMinute int    `yaml:"authFailureRateLimitPerMinute"`

	MaxUploadBytes     int64    `yaml:"maxUploadBytes"`
	AllowedMimeTypes   []string `yaml:"allowedMimeTypes"`
	EnforcePermissions bool     `yaml:"enforcePermissions"`
	PlansFile          string   `yaml:"plansFile"`
}

// Load reads config from path (defaults to FILEINASNAP_CONFIG or config.yaml),
// then applies environment overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := os.Getenv("FILEINASNAP_CONFIG"); v != "" {
		path = v
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFile, "LOG_FILE")
	setString(&cfg.AuthProvider, "AUTH_PROVIDER")
	setString(&cfg.Auth0Domain, "AUTH0_DOMAIN")
	setString(&cfg.JWTAudience, "AUTH0_AUDIENCE")
	setString(&cfg.SupabaseURL, "SUPABASE_URL")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWKSURL, "JWKS_URL")
	setString(&cfg.JWTLeeway, "JWT_LEEWAY")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.StorageDriver, "STORAGE_DRIVER")
	setString(&cfg.StorageEndpoint, "STORAGE_ENDPOINT")
	setString(&cfg.StorageRegion, "STORAGE_REGION")
	setString(&cfg.StorageAccessKey, "STORAGE_ACCESS_KEY")
	setString(&cfg.StorageSecretKey, "STORAGE_SECRET_KEY")
	setString(&cfg.StorageBucket, "STORAGE_BUCKET")
	setString(&cfg.PresignExpiry, "PRESIGN_EXPIRY")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.PlansFile, "PLANS_FILE")
	if v := os.Getenv("STORAGE_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.StorageUseSSL = b
		}
	}
	if v := os.Getenv("ENFORCE_PERMISSIONS"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.EnforcePermissions = b
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("ALLOWED_MIME_TYPES"); v != "" {
		cfg.AllowedMimeTypes = splitCSV(v)
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("WRITE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.WriteRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("AUTH_FAILURE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.AuthFailureRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = "minio"
	}
	if cfg.StorageBucket == "" {
		cfg.StorageBucket = defaultBucket
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"http://localhost:3000"}
	}
	cfg.AuthProvider = strings.ToLower(strings.TrimSpace(cfg.AuthProvider))
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.AuthProvider {
	case "auth0":
		if strings.TrimSpace(cfg.Auth0Domain) == "" && strings.TrimSpace(cfg.JWKSURL) == "" {
			return errors.New("config: auth0Domain is required for authProvider auth0")
		}
		if strings.TrimSpace(cfg.JWTAudience) == "" {
			return errors.New("config: jwtAudience is required for authProvider auth0 (or AUTH0_AUDIENCE)")
		}
	case "supabase":
		if strings.TrimSpace(cfg.SupabaseURL) == "" && strings.TrimSpace(cfg.JWKSURL) == "" {
			return errors.New("config: supabaseURL is required for authProvider supabase")
		}
	case "":
		return errors.New("config: authProvider is required (auth0 or supabase)")
	default:
		return fmt.Errorf("config: unsupported authProvider %q", cfg.AuthProvider)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.StorageDriver {
	case "minio":
		if strings.TrimSpace(cfg.StorageEndpoint) == "" {
			return errors.New("config: storageEndpoint is required for storageDriver minio")
		}
	case "s3":
	default:
		return fmt.Errorf("config: unsupported storageDriver %q", cfg.StorageDriver)
	}
	if cfg.StorageAccessKey == "" || cfg.StorageSecretKey == "" {
		return errors.New("config: storageAccessKey and storageSecretKey are required")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.WriteRateLimitPerMinute < 0 {
		return errors.New("config: writeRateLimitPerMinute must be >= 0")
	}
	if cfg.AuthFailureRateLimitPerMinute < 0 {
		return errors.New("config: authFailureRateLimitPerMinute must be >= 0")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	if _, err := ParsePresignExpiry(cfg.PresignExpiry); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = strings.TrimSpace(v)
	}
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

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

// ParsePresignExpiry parses the presigned URL lifetime. S3 caps it at 7 days.
func ParsePresignExpiry(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultPresignExpiry, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid presignExpiry duration: %w", err)
	}
	if dur <= 0 || dur > 7*24*time.Hour {
		return 0, fmt.Errorf("invalid presignExpiry %s: must be within (0, 168h]", raw)
	}
	return dur, nil
}

// Package config loads process-wide settings from the environment, an
// optional config file and command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported model backends.
const (
	BackendONNX = "onnx"
	BackendGRPC = "grpc"
)

// Config holds every setting the server needs after startup.
type Config struct {
	Host string
	Port int

	DatabaseDriver string
	DatabaseURL    string
	DatabaseName   string

	ModelBackend    string
	ModelPath       string
	ModelLabelsPath string
	ModelVersion    string
	ModelInputName  string
	ModelOutputName string
	ModelGRPCAddr   string
	ModelMaxRPS     float64
	ONNXRuntimeLib  string

	UploadDir      string
	MaxUploadBytes int64
	StaticDir      string

	JWTSecret      string
	JWTAudience    string
	TokenLifetime  time.Duration
	RedisAddr      string
	StatsCacheTTL  time.Duration
	LogLevel       string
	ConfigFileUsed string
}

type envBinding struct {
	key      string
	env      string
	fallback any
}

// bindings maps viper keys to their environment variables and defaults.
var bindings = []envBinding{
	{"host", "HOST", "0.0.0.0"},
	{"port", "PORT", 8000},

	{"database.driver", "DATABASE_DRIVER", DriverPostgres},
	{"database.url", "DATABASE_URL", ""},
	{"database.name", "DATABASE_NAME", "medical_ai_db"},

	{"model.backend", "MODEL_BACKEND", BackendONNX},
	{"model.path", "MODEL_PATH", "models/lung_disease_model.onnx"},
	{"model.labelspath", "MODEL_LABELS_PATH", ""},
	{"model.version", "MODEL_VERSION", "1.0.0"},
	{"model.inputname", "MODEL_INPUT_NAME", "input"},
	{"model.outputname", "MODEL_OUTPUT_NAME", "output"},
	{"model.grpcaddr", "MODEL_GRPC_ADDR", ""},
	{"model.maxrps", "MODEL_MAX_RPS", 0.0},
	{"model.onnxruntimelib", "ONNXRUNTIME_LIB", ""},

	{"upload.dir", "UPLOAD_DIR", "uploads"},
	{"upload.maxbytes", "MAX_UPLOAD_BYTES", int64(10 << 20)},
	{"static.dir", "STATIC_DIR", "static"},

	{"auth.secret", "JWT_SECRET", "change-me-in-prod"},
	{"auth.audience", "JWT_AUDIENCE", ""},
	{"auth.expireminutes", "ACCESS_TOKEN_EXPIRE_MINUTES", 60},

	{"cache.redisaddr", "REDIS_ADDR", ""},
	{"cache.statsttl", "STATS_CACHE_TTL", "30s"},

	{"log.level", "LOG_LEVEL", "info"},
}

// New returns a viper instance with defaults and environment bindings applied.
func New() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, b := range bindings {
		v.SetDefault(b.key, b.fallback)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b.env, err)
		}
	}
	return v, nil
}

// Load reads the optional config file and decodes the settings into a Config.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	statsTTL, err := parseDuration(v.GetString("cache.statsttl"))
	if err != nil {
		return nil, fmt.Errorf("STATS_CACHE_TTL: %w", err)
	}

	cfg := &Config{
		Host:            v.GetString("host"),
		Port:            v.GetInt("port"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
		DatabaseURL:     v.GetString("database.url"),
		DatabaseName:    v.GetString("database.name"),
		ModelBackend:    strings.ToLower(strings.TrimSpace(v.GetString("model.backend"))),
		ModelPath:       v.GetString("model.path"),
		ModelLabelsPath: v.GetString("model.labelspath"),
		ModelVersion:    v.GetString("model.version"),
		ModelInputName:  v.GetString("model.inputname"),
		ModelOutputName: v.GetString("model.outputname"),
		ModelGRPCAddr:   v.GetString("model.grpcaddr"),
		ModelMaxRPS:     v.GetFloat64("model.maxrps"),
		ONNXRuntimeLib:  v.GetString("model.onnxruntimelib"),
		UploadDir:       v.GetString("upload.dir"),
		MaxUploadBytes:  v.GetInt64("upload.maxbytes"),
		StaticDir:       v.GetString("static.dir"),
		JWTSecret:       v.GetString("auth.secret"),
		JWTAudience:     v.GetString("auth.audience"),
		TokenLifetime:   time.Duration(v.GetInt("auth.expireminutes")) * time.Minute,
		RedisAddr:       v.GetString("cache.redisaddr"),
		StatsCacheTTL:   statsTTL,
		LogLevel:        v.GetString("log.level"),
		ConfigFileUsed:  v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be in 1..65535, got %d", c.Port))
	}
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DatabaseDriver))
	}
	switch c.ModelBackend {
	case BackendONNX:
	case BackendGRPC:
		if c.ModelGRPCAddr == "" {
			errs = append(errs, errors.New("MODEL_GRPC_ADDR is required when MODEL_BACKEND=grpc"))
		}
	default:
		errs = append(errs, fmt.Errorf("MODEL_BACKEND must be %q or %q, got %q", BackendONNX, BackendGRPC, c.ModelBackend))
	}
	if c.ModelMaxRPS < 0 {
		errs = append(errs, errors.New("MODEL_MAX_RPS must not be negative"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.TokenLifetime <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("UPLOAD_DIR must not be empty"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DSN returns the driver specific connection string. DATABASE_NAME fills in
// the database when the URL does not name one.
func (c *Config) DSN() string {
	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabaseURL != "" {
			return c.DatabaseURL
		}
		return c.DatabaseName + ".db"
	default:
		if c.DatabaseURL == "" {
			return fmt.Sprintf("host=localhost user=postgres password=postgres dbname=%s port=5432 sslmode=disable", c.DatabaseName)
		}
		if !strings.Contains(c.DatabaseURL, "://") && !strings.Contains(c.DatabaseURL, "dbname=") {
			return c.DatabaseURL + " dbname=" + c.DatabaseName
		}
		return c.DatabaseURL
	}
}

// UsingDefaultSecret reports whether the token secret was left at its
// development default.
func (c *Config) UsingDefaultSecret() bool {
	return c.JWTSecret == "change-me-in-prod"
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}

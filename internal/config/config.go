package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CIVICSYNC_"

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Sync      SyncConfig      `yaml:"sync"`
	Limits    LimitsConfig    `yaml:"limits"`
	Users     UsersConfig     `yaml:"users"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TransportConfig selects how the process is reached. "http" serves the
// REST API, change stream and MCP endpoint; "stdio" serves MCP only.
type TransportConfig struct {
	Mode string `yaml:"mode"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
	// StaffUserID is the employee the triage desk session runs as.
	StaffUserID string `yaml:"staff_user_id"`
	StaffName   string `yaml:"staff_name"`
}

type EvidenceConfig struct {
	Backend         string `yaml:"backend"`
	Dir             string `yaml:"dir"`
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	MaxBytes        int64  `yaml:"max_bytes"`
}

type SyncConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxAttempts    int           `yaml:"max_attempts"`
	FeedBuffer     int           `yaml:"feed_buffer"`
}

type LimitsConfig struct {
	CreatesPerSecond float64 `yaml:"creates_per_second"`
	CreateBurst      int     `yaml:"create_burst"`
}

type UsersConfig struct {
	PhoneRegion string `yaml:"phone_region"`
	CacheSize   int    `yaml:"cache_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		Transport: TransportConfig{Mode: "http"},
		DB:        DBConfig{Driver: "sqlite", Path: "civicsync.db"},
		Log:       LogConfig{Level: "info"},
		Auth:      AuthConfig{Issuer: "civicsync", StaffName: "Triage Desk"},
		Evidence:  EvidenceConfig{Backend: "fs", Dir: "evidence", MaxBytes: 10 << 20},
		Sync: SyncConfig{
			WriteTimeout:   15 * time.Second,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			FeedBuffer:     64,
		},
		Limits: LimitsConfig{CreatesPerSecond: 0.2, CreateBurst: 5},
		Users:  UsersConfig{PhoneRegion: "US", CacheSize: 1024},
	}
}

// Load reads configuration from defaults, an optional YAML file and
// environment variables, in that order. A .env file in the working
// directory is loaded into the environment first; variables already set
// win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path := os.Getenv(envPrefix + "CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Host, "SERVER_HOST")
	setString(&cfg.Transport.Mode, "TRANSPORT_MODE")
	setString(&cfg.DB.Driver, "DB_DRIVER")
	setString(&cfg.DB.Path, "DB_PATH")
	setString(&cfg.DB.DSN, "DB_DSN")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Path, "LOG_PATH")
	setString(&cfg.Auth.Secret, "AUTH_SECRET")
	setString(&cfg.Auth.Issuer, "AUTH_ISSUER")
	setString(&cfg.Auth.StaffUserID, "STAFF_USER_ID")
	setString(&cfg.Auth.StaffName, "STAFF_NAME")
	setString(&cfg.Evidence.Backend, "EVIDENCE_BACKEND")
	setString(&cfg.Evidence.Dir, "EVIDENCE_DIR")
	setString(&cfg.Evidence.Bucket, "EVIDENCE_BUCKET")
	setString(&cfg.Evidence.CredentialsFile, "EVIDENCE_CREDENTIALS_FILE")
	setString(&cfg.Users.PhoneRegion, "PHONE_REGION")

	return errors.Join(
		setInt(&cfg.Server.Port, "SERVER_PORT"),
		setInt64(&cfg.Evidence.MaxBytes, "EVIDENCE_MAX_BYTES"),
		setDuration(&cfg.Sync.WriteTimeout, "WRITE_TIMEOUT"),
		setDuration(&cfg.Sync.InitialBackoff, "INITIAL_BACKOFF"),
		setDuration(&cfg.Sync.MaxBackoff, "MAX_BACKOFF"),
		setInt(&cfg.Sync.MaxAttempts, "MAX_ATTEMPTS"),
		setInt(&cfg.Sync.FeedBuffer, "FEED_BUFFER"),
		setFloat(&cfg.Limits.CreatesPerSecond, "CREATES_PER_SECOND"),
		setInt(&cfg.Limits.CreateBurst, "CREATE_BURST"),
		setInt(&cfg.Users.CacheSize, "USER_CACHE_SIZE"),
	)
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setInt(dst *int, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
	}
	*dst = d
	return nil
}

// Validate checks settings that depend on each other.
func (c Config) Validate() error {
	var errs []error
	switch c.Transport.Mode {
	case "http":
		if c.Auth.Secret == "" {
			errs = append(errs, errors.New("auth.secret is required in http mode"))
		}
	case "stdio":
		if c.Auth.StaffUserID == "" {
			errs = append(errs, errors.New("auth.staff_user_id is required in stdio mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport.mode %q", c.Transport.Mode))
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			errs = append(errs, errors.New("db.path is required for sqlite"))
		}
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db.driver %q", c.DB.Driver))
	}
	switch c.Evidence.Backend {
	case "fs":
		if c.Evidence.Dir == "" {
			errs = append(errs, errors.New("evidence.dir is required for the fs backend"))
		}
	case "gcs":
		if c.Evidence.Bucket == "" {
			errs = append(errs, errors.New("evidence.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown evidence.backend %q", c.Evidence.Backend))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

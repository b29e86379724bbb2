// Package config collects server options from defaults, an optional .env
// file, an optional config file (JSON, YAML or TOML), command-line flags
// and environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from strings such as "15m" in
// every supported file format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Options holds the configuration values for the server.
type Options struct {
	// Addr is the listening address (ip:port).
	Addr string `json:"addr" yaml:"addr" toml:"addr" validate:"required"`

	// DatabaseDriver selects sqlite or postgres.
	DatabaseDriver string `json:"database_driver" yaml:"database_driver" toml:"database_driver" validate:"oneof=sqlite postgres"`
	// DatabaseDSN is the driver-specific connection string.
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn" toml:"database_dsn" validate:"required"`

	// AuditLogPath is the login-attempt log file.
	AuditLogPath string `json:"audit_log_path" yaml:"audit_log_path" toml:"audit_log_path" validate:"required"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// SessionSecret signs session tokens. Empty means a random secret per
	// process start.
	SessionSecret string   `json:"session_secret" yaml:"session_secret" toml:"session_secret"`
	SessionTTL    Duration `json:"session_ttl" yaml:"session_ttl" toml:"session_ttl"`

	MaxFailedAttempts int      `json:"max_failed_attempts" yaml:"max_failed_attempts" toml:"max_failed_attempts" validate:"min=1"`
	LockoutDuration   Duration `json:"lockout_duration" yaml:"lockout_duration" toml:"lockout_duration"`
	PasswordHasher    string   `json:"password_hasher" yaml:"password_hasher" toml:"password_hasher" validate:"oneof=sha256 bcrypt"`

	RetentionYears int      `json:"retention_years" yaml:"retention_years" toml:"retention_years" validate:"min=1"`
	SweepInterval  Duration `json:"sweep_interval" yaml:"sweep_interval" toml:"sweep_interval"`

	// AdminUsername is the built-in administrator. It is created with
	// AdminPassword when missing and cannot be deleted.
	AdminUsername string `json:"admin_username" yaml:"admin_username" toml:"admin_username" validate:"required"`
	AdminPassword string `json:"admin_password" yaml:"admin_password" toml:"admin_password"`
	// EmergencyUnlock names an account whose lockout is cleared at start-up.
	EmergencyUnlock string `json:"emergency_unlock" yaml:"emergency_unlock" toml:"emergency_unlock"`

	TLSCertFile string `json:"tls_cert_file" yaml:"tls_cert_file" toml:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `json:"tls_key_file" yaml:"tls_key_file" toml:"tls_key_file" validate:"required_with=TLSCertFile"`

	// Config is the path to the config file.
	Config string `json:"-" yaml:"-" toml:"-"`
}

// Defaults returns the options used when nothing else is set.
func Defaults() *Options {
	return &Options{
		Addr:              "localhost:8080",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       "file:carekeeper.db?_pragma=busy_timeout(5000)",
		AuditLogPath:      filepath.Join("logs", "login_attempts.log"),
		LogLevel:          "info",
		SessionTTL:        Duration{8 * time.Hour},
		MaxFailedAttempts: 3,
		LockoutDuration:   Duration{15 * time.Minute},
		PasswordHasher:    "sha256",
		RetentionYears:    10,
		SweepInterval:     Duration{24 * time.Hour},
		AdminUsername:     "admin",
		Config:            "config.json",
	}
}

// Parse loads .env from the working directory and then resolves options
// from the process arguments and environment. It exits on invalid input.
func Parse() *Options {
	if err := LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error while reading .env: %v\n", err)
		os.Exit(2)
	}
	options, err := Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	return options
}

// LoadDotEnv exports the variables in path that are not already set. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load resolves options from args and env over Defaults.
func Load(args []string, env func(string) (string, bool)) (*Options, error) {
	options := Defaults()

	fset := flag.NewFlagSet("carekeeper", flag.ContinueOnError)
	bindFlags(fset, options)
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if configPath, ok := env("CONFIG"); ok && configPath != "" {
		options.Config = configPath
	}
	if err := loadFile(options.Config, options); err != nil {
		return nil, err
	}

	// Flags win over the file: parse again so only the flags given on the
	// command line are re-applied.
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := applyEnv(options, env); err != nil {
		return nil, err
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return options, nil
}

func bindFlags(fset *flag.FlagSet, o *Options) {
	fset.StringVar(&o.Addr, "a", o.Addr, "run on ip:port server")
	fset.StringVar(&o.DatabaseDriver, "driver", o.DatabaseDriver, "database driver (sqlite|postgres)")
	fset.StringVar(&o.DatabaseDSN, "d", o.DatabaseDSN, "database DSN")
	fset.StringVar(&o.AuditLogPath, "audit-log", o.AuditLogPath, "login attempt log file")
	fset.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
	fset.StringVar(&o.SessionSecret, "session-secret", o.SessionSecret, "session token signing secret")
	fset.DurationVar(&o.SessionTTL.Duration, "session-ttl", o.SessionTTL.Duration, "session token lifetime")
	fset.IntVar(&o.MaxFailedAttempts, "max-failed-attempts", o.MaxFailedAttempts, "failures before lockout")
	fset.DurationVar(&o.LockoutDuration.Duration, "lockout", o.LockoutDuration.Duration, "lockout duration")
	fset.StringVar(&o.PasswordHasher, "hasher", o.PasswordHasher, "password hasher (sha256|bcrypt)")
	fset.IntVar(&o.RetentionYears, "retention-years", o.RetentionYears, "record retention period in years")
	fset.DurationVar(&o.SweepInterval.Duration, "sweep-interval", o.SweepInterval.Duration, "retention sweep interval")
	fset.StringVar(&o.AdminUsername, "admin", o.AdminUsername, "built-in administrator username")
	fset.StringVar(&o.AdminPassword, "admin-password", o.AdminPassword, "initial administrator password")
	fset.StringVar(&o.EmergencyUnlock, "emergency-unlock", o.EmergencyUnlock, "clear the lockout of this account at start-up")
	fset.StringVar(&o.TLSCertFile, "tls-cert", o.TLSCertFile, "TLS certificate file")
	fset.StringVar(&o.TLSKeyFile, "tls-key", o.TLSKeyFile, "TLS key file")
	fset.StringVar(&o.Config, "config", o.Config, "path to config file")
	fset.StringVar(&o.Config, "c", o.Config, "path to config file (shorthand)")
}

// loadFile decodes path into o by extension. A missing file is skipped.
func loadFile(path string, o *Options) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, o)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, o)
	case ".toml":
		_, err = toml.Decode(string(data), o)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(o *Options, env func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_ADDRESS":   &o.Addr,
		"DATABASE_DRIVER":  &o.DatabaseDriver,
		"DATABASE_DSN":     &o.DatabaseDSN,
		"AUDIT_LOG_PATH":   &o.AuditLogPath,
		"LOG_LEVEL":        &o.LogLevel,
		"SESSION_SECRET":   &o.SessionSecret,
		"PASSWORD_HASHER":  &o.PasswordHasher,
		"ADMIN_USERNAME":   &o.AdminUsername,
		"ADMIN_PASSWORD":   &o.AdminPassword,
		"EMERGENCY_UNLOCK": &o.EmergencyUnlock,
		"TLS_CERT_FILE":    &o.TLSCertFile,
		"TLS_KEY_FILE":     &o.TLSKeyFile,
	}
	for key, dst := range strs {
		if v, ok := env(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MAX_FAILED_ATTEMPTS": &o.MaxFailedAttempts,
		"RETENTION_YEARS":     &o.RetentionYears,
	}
	for key, dst := range ints {
		if v, ok := env(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"SESSION_TTL":      &o.SessionTTL,
		"LOCKOUT_DURATION": &o.LockoutDuration,
		"SWEEP_INTERVAL":   &o.SweepInterval,
	}
	for key, dst := range durations {
		if v, ok := env(key); ok && v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks option ranges.
func (o *Options) Validate() error {
	o.PasswordHasher = strings.ToLower(o.PasswordHasher)
	o.DatabaseDriver = strings.ToLower(o.DatabaseDriver)
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name, d := range map[string]Duration{
		"session_ttl":      o.SessionTTL,
		"lockout_duration": o.LockoutDuration,
		"sweep_interval":   o.SweepInterval,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("invalid configuration: %s must be positive", name)
		}
	}
	return nil
}

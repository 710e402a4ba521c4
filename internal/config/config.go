// Package config resolves runtime settings from flags, FEEDER_* environment
// variables and an optional ./configs/feeder.yaml, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"fleet-feeder/internal/geotab"
)

const (
	MinInterval = 5
	MaxInterval = 300
)

var ErrMissingDatabase = errors.New("database name is required")

type Config struct {
	Database string
	User     string
	Password string
	Server   string
	Interval time.Duration

	// StorePath is the record store of the feed variant.
	StorePath string
	// OutputDir and Prefix name the history files of the polling variant.
	OutputDir string
	Prefix    string

	MetricsPort string
	HealthAddr  string
	RedisAddr   string
	RedisDB     int
	LogLevel    string
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [flags] DATABASE\n", name)
		fs.PrintDefaults()
	}
	fs.StringP("user", "u", "", "MyGeotab username")
	fs.StringP("password", "p", "", "MyGeotab password (prompted when omitted)")
	fs.String("server", geotab.DefaultServer, "MyGeotab server")
	fs.IntP("interval", "i", 60, fmt.Sprintf("data feed interval in seconds [%d-%d]", MinInterval, MaxInterval))
	fs.String("store", "vehicles.csv", "CSV record store (feed variant)")
	fs.String("output-dir", ".", "directory for history files (polling variant)")
	fs.String("prefix", "vehicles", "history file prefix (polling variant)")
	fs.String("metrics-port", "9000", "port for /metrics and /healthz, empty disables")
	fs.String("health-addr", "", "gRPC health listen address, empty disables")
	fs.String("redis-addr", "", "Redis address for the latest-value mirror, empty disables")
	fs.Int("redis-db", 0, "Redis database number")
	fs.String("log-level", "info", "debug|info|warn|error")
	return fs
}

// Load parses args (without the program name) for the named program.
// pflag.ErrHelp is returned unchanged when -h is given.
func Load(name string, args []string) (Config, error) {
	fs := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("FEEDER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("feeder")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	cfg := Config{
		Database:    fs.Arg(0),
		User:        v.GetString("user"),
		Password:    v.GetString("password"),
		Server:      v.GetString("server"),
		Interval:    time.Duration(v.GetInt("interval")) * time.Second,
		StorePath:   v.GetString("store"),
		OutputDir:   v.GetString("output-dir"),
		Prefix:      v.GetString("prefix"),
		MetricsPort: v.GetString("metrics-port"),
		HealthAddr:  v.GetString("health-addr"),
		RedisAddr:   v.GetString("redis-addr"),
		RedisDB:     v.GetInt("redis-db"),
		LogLevel:    v.GetString("log-level"),
	}
	if cfg.Database == "" {
		cfg.Database = v.GetString("database")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Database == "" {
		return ErrMissingDatabase
	}
	secs := int(c.Interval / time.Second)
	if secs < MinInterval || secs > MaxInterval {
		return fmt.Errorf("interval %ds out of range [%d, %d]", secs, MinInterval, MaxInterval)
	}
	if c.StorePath == "" {
		return errors.New("store path must not be empty")
	}
	return nil
}

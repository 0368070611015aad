// Package config loads the recovery server's TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ruteri/share-recovery-backend/interfaces"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	DB      DBConfig      `toml:"db"`
	SMTP    SMTPConfig    `toml:"smtp"`
	Archive ArchiveConfig `toml:"archive"`
}

type ServerConfig struct {
	ListenAddr    string   `toml:"listen_addr"`
	MetricsAddr   string   `toml:"metrics_addr"`
	Pprof         bool     `toml:"pprof"`
	DrainDuration Duration `toml:"drain_duration"`
	ReadTimeout   Duration `toml:"read_timeout"`
	WriteTimeout  Duration `toml:"write_timeout"`
}

type LogConfig struct {
	JSON    bool   `toml:"json"`
	Debug   bool   `toml:"debug"`
	Service string `toml:"service"`
}

type DBConfig struct {
	Path     string `toml:"path"`
	PoolSize int    `toml:"pool_size"`
}

// SMTPConfig leaves notifications disabled while Host is empty.
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
	CheckMX  bool   `toml:"check_mx"`
	Resolver string `toml:"resolver"`
}

// ArchiveConfig leaves receipt archiving disabled while Locations is empty.
type ArchiveConfig struct {
	Locations  []string `toml:"locations"`
	Recipients []string `toml:"recipients"`
}

// Duration decodes TOML strings such as "45s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:    "127.0.0.1:8080",
			MetricsAddr:   "127.0.0.1:8090",
			DrainDuration: Duration{45 * time.Second},
			ReadTimeout:   Duration{60 * time.Second},
			WriteTimeout:  Duration{30 * time.Second},
		},
		Log: LogConfig{
			Service: "share-recovery",
		},
		DB: DBConfig{
			Path:     "recovery.db",
			PoolSize: 8,
		},
		SMTP: SMTPConfig{
			Port:     587,
			Resolver: "127.0.0.53:53",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.ListenAddr) == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.DB.PoolSize < 1 {
		errs = append(errs, errors.New("db.pool_size must be positive"))
	}
	if c.SMTP.Host != "" {
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			errs = append(errs, fmt.Errorf("smtp.port %d out of range", c.SMTP.Port))
		}
		if _, err := mail.ParseAddress(c.SMTP.From); err != nil {
			errs = append(errs, fmt.Errorf("smtp.from: %w", err))
		}
	}
	for i, loc := range c.Archive.Locations {
		if _, err := interfaces.NewStorageBackendLocation(loc); err != nil {
			errs = append(errs, fmt.Errorf("archive.locations[%d]: %w", i, err))
		}
	}
	if len(c.Archive.Recipients) > 0 && len(c.Archive.Locations) == 0 {
		errs = append(errs, errors.New("archive.recipients set without archive.locations"))
	}
	return errors.Join(errs...)
}

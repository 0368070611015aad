// Package flags holds the cli flags and setup helpers shared by the
// commands.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/share-recovery-backend/api"
	"github.com/ruteri/share-recovery-backend/common"
	"github.com/ruteri/share-recovery-backend/config"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig reads --config and applies every flag the user set
// explicitly on top of it.
func LoadConfig(cCtx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFlag.Name))
	if err != nil {
		return config.Config{}, err
	}

	setString := func(name string, dst *string) {
		if cCtx.IsSet(name) {
			*dst = cCtx.String(name)
		}
	}
	setString(ListenAddrFlag.Name, &cfg.Server.ListenAddr)
	setString(MetricsAddrFlag.Name, &cfg.Server.MetricsAddr)
	setString(DBPathFlag.Name, &cfg.DB.Path)
	setString(SMTPHostFlag.Name, &cfg.SMTP.Host)
	setString(SMTPUserFlag.Name, &cfg.SMTP.Username)
	setString(SMTPPasswordFlag.Name, &cfg.SMTP.Password)
	setString(SMTPFromFlag.Name, &cfg.SMTP.From)
	setString(LogServiceFlag.Name, &cfg.Log.Service)

	if cCtx.IsSet(PprofFlag.Name) {
		cfg.Server.Pprof = cCtx.Bool(PprofFlag.Name)
	}
	if cCtx.IsSet(DrainSecondsFlag.Name) {
		cfg.Server.DrainDuration = config.Duration{Duration: time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second}
	}
	if cCtx.IsSet(DBPoolSizeFlag.Name) {
		cfg.DB.PoolSize = cCtx.Int(DBPoolSizeFlag.Name)
	}
	if cCtx.IsSet(SMTPPortFlag.Name) {
		cfg.SMTP.Port = cCtx.Int(SMTPPortFlag.Name)
	}
	if cCtx.IsSet(SMTPCheckMXFlag.Name) {
		cfg.SMTP.CheckMX = cCtx.Bool(SMTPCheckMXFlag.Name)
	}
	if cCtx.IsSet(ArchiveFlag.Name) {
		cfg.Archive.Locations = cCtx.StringSlice(ArchiveFlag.Name)
	}
	if cCtx.IsSet(ArchiveRecipientFlag.Name) {
		cfg.Archive.Recipients = cCtx.StringSlice(ArchiveRecipientFlag.Name)
	}
	if cCtx.IsSet(LogJsonFlag.Name) {
		cfg.Log.JSON = cCtx.Bool(LogJsonFlag.Name)
	}
	if cCtx.IsSet(LogDebugFlag.Name) {
		cfg.Log.Debug = cCtx.Bool(LogDebugFlag.Name)
	}

	return cfg, cfg.Validate()
}

func ConfigureServer(cfg config.Config, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cfg.Server.ListenAddr,
		MetricsAddr:              cfg.Server.MetricsAddr,
		Log:                      logger,
		EnablePprof:              cfg.Server.Pprof,
		DrainDuration:            cfg.Server.DrainDuration.Duration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              cfg.Server.ReadTimeout.Duration,
		WriteTimeout:             cfg.Server.WriteTimeout.Duration,
	}
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"RECOVERY_CONFIG"},
	Usage:   "TOML configuration file; flags override its values",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	EnvVars: []string{"RECOVERY_LISTEN_ADDR"},
	Usage:   "address to listen on for API",
}

var DBPathFlag = &cli.StringFlag{
	Name:    "db",
	Value:   "recovery.db",
	EnvVars: []string{"RECOVERY_DB"},
	Usage:   "path of the SQLite database",
}
var DBPoolSizeFlag = &cli.IntFlag{
	Name:  "db-pool-size",
	Value: 8,
	Usage: "number of pooled SQLite connections",
}

var SMTPHostFlag = &cli.StringFlag{
	Name:    "smtp-host",
	EnvVars: []string{"RECOVERY_SMTP_HOST"},
	Usage:   "SMTP relay host; notifications are disabled when empty",
}
var SMTPPortFlag = &cli.IntFlag{
	Name:  "smtp-port",
	Value: 587,
	Usage: "SMTP relay port",
}
var SMTPUserFlag = &cli.StringFlag{
	Name:    "smtp-user",
	EnvVars: []string{"RECOVERY_SMTP_USER"},
	Usage:   "SMTP username",
}
var SMTPPasswordFlag = &cli.StringFlag{
	Name:    "smtp-password",
	EnvVars: []string{"RECOVERY_SMTP_PASSWORD"},
	Usage:   "SMTP password",
}
var SMTPFromFlag = &cli.StringFlag{
	Name:    "smtp-from",
	EnvVars: []string{"RECOVERY_SMTP_FROM"},
	Usage:   "sender address of notifications",
}
var SMTPCheckMXFlag = &cli.BoolFlag{
	Name:  "smtp-check-mx",
	Usage: "skip recipients whose domain has no MX record",
}

var ArchiveFlag = &cli.StringSliceFlag{
	Name:    "archive",
	EnvVars: []string{"RECOVERY_ARCHIVE"},
	Usage:   "archive location URI for commit receipts (file://, s3://, vault://, ipfs://); repeatable",
}
var ArchiveRecipientFlag = &cli.StringSliceFlag{
	Name:  "archive-recipient",
	Usage: "age X25519 recipient archived receipts are sealed to; repeatable",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "share-recovery",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var ServerFlags = append([]cli.Flag{
	ConfigFlag,
	ListenAddrFlag,
	MetricsAddrFlag,
	PprofFlag,
	DrainSecondsFlag,
	DBPathFlag,
	DBPoolSizeFlag,
	SMTPHostFlag,
	SMTPPortFlag,
	SMTPUserFlag,
	SMTPPasswordFlag,
	SMTPFromFlag,
	SMTPCheckMXFlag,
	ArchiveFlag,
	ArchiveRecipientFlag,
}, CommonFlags...)

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/ruteri/share-recovery-backend/api/handlers"
	"github.com/ruteri/share-recovery-backend/api/servers"
	"github.com/ruteri/share-recovery-backend/cmd/flags"
	"github.com/ruteri/share-recovery-backend/common"
	"github.com/ruteri/share-recovery-backend/config"
	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/ruteri/share-recovery-backend/mailer"
	"github.com/ruteri/share-recovery-backend/metrics"
	"github.com/ruteri/share-recovery-backend/recovery"
	"github.com/ruteri/share-recovery-backend/sqlstore"
	"github.com/ruteri/share-recovery-backend/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "recovery-server",
		Usage:   "Serve the vault share recovery API",
		Version: common.Version,
		Flags:   flags.ServerFlags,
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return err
	}

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cfg.Log.Debug,
		JSON:    cfg.Log.JSON,
		Service: cfg.Log.Service,
		Version: common.Version,
	})
	if cCtx.Bool(flags.LogUidFlag.Name) {
		logger = logger.With("uid", uuid.NewString())
	}

	logger.Info("Opening database", "path", cfg.DB.Path)
	store, err := sqlstore.Open(sqlstore.Config{
		Path:     cfg.DB.Path,
		PoolSize: cfg.DB.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("Failed to open database", "err", err)
		return err
	}
	defer store.Close()

	metricsSrv, recorder := metrics.New(common.PackageName, cfg.Server.MetricsAddr)

	svcCfg := recovery.Config{
		Store:   store,
		Hasher:  cryptoutils.NewArgon2Hasher(),
		Metrics: recorder,
		Log:     logger,
	}

	if cfg.SMTP.Host != "" {
		logger.Info("Email notifications enabled", "host", cfg.SMTP.Host, "checkMX", cfg.SMTP.CheckMX)
		svcCfg.Notifier = mailer.New(mailerConfig(cfg.SMTP), logger)
	} else {
		logger.Warn("No SMTP host configured, notifications are disabled")
	}

	if len(cfg.Archive.Locations) > 0 {
		backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(cfg.Archive.Locations)
		if err != nil {
			logger.Error("Failed to configure archive", "err", err)
			return err
		}
		archiver, err := storage.NewArchiver(backend, cfg.Archive.Recipients, logger)
		if err != nil {
			logger.Error("Failed to configure archive", "err", err)
			return err
		}
		logger.Info("Receipt archive enabled", "location", backend.LocationURI(), "sealed", len(cfg.Archive.Recipients) > 0)
		svcCfg.Archiver = archiver
	}

	svc := recovery.NewService(svcCfg)

	srvCfg := flags.ConfigureServer(cfg, logger)
	srvCfg.ReadyCheck = store.Ping
	server := servers.New(srvCfg, handlers.NewHandler(svc, logger), metricsSrv)
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func mailerConfig(c config.SMTPConfig) mailer.Config {
	return mailer.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		CheckMX:  c.CheckMX,
		Resolver: c.Resolver,
	}
}

var _ interfaces.Notifier = (*mailer.Mailer)(nil)

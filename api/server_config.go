package api

import (
	"context"
	"log/slog"
	"time"
)

// HTTPServerConfig contains all configuration parameters for the HTTP server.
type HTTPServerConfig struct {
	// ListenAddr is the address and port the HTTP server will listen on.
	ListenAddr string

	// MetricsAddr is the address and port for the metrics server.
	// If empty, metrics server will not be started.
	MetricsAddr string

	// EnablePprof enables the pprof debugging API when true.
	EnablePprof bool

	Log *slog.Logger

	// ReadyCheck, when set, must succeed for /readyz to report ready.
	ReadyCheck func(ctx context.Context) error

	// DrainDuration is how long /drain waits after marking the server not
	// ready, so load balancers notice before shutdown.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds how long Shutdown waits for
	// in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

/*
Package servers runs the recovery API.

Server wires the handlers into a chi router behind the slog access log
middleware and adds operational endpoints:

	GET /livez    process is up
	GET /readyz   accepting traffic and the database answers
	GET /drain    stop reporting ready ahead of a shutdown
	GET /undrain  report ready again

pprof is mounted under /debug when enabled. Prometheus metrics are served
by a separate listener on MetricsAddr.
*/
package servers

// Package common holds process wide build metadata and logger setup.
package common

// Version is overridden at build time with -ldflags "-X ...common.Version=".
var Version = "dev"

// PackageName is the metrics namespace.
const PackageName = "share_recovery"

package storage

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ruteri/share-recovery-backend/interfaces"
)

// StorageBackendFactory builds backends from location URIs.
type StorageBackendFactory struct {
	log *slog.Logger
}

func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor creates the backend a location URI names. The URI
// format is [scheme]://[auth@]host[:port][/path][?params] with scheme one
// of file, s3, vault or ipfs.
func (sf *StorageBackendFactory) StorageBackendFor(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch strings.ToLower(loc.Scheme) {
	case "file":
		return sf.createFileBackend(loc)
	case "s3":
		return sf.createS3Backend(loc)
	case "vault":
		return sf.createVaultBackend(loc)
	case "ipfs":
		return sf.createIPFSBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiBackend parses and builds every URI. A single backend is
// returned unwrapped.
func (sf *StorageBackendFactory) CreateMultiBackend(uris []string) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		backend, err := sf.StorageBackendFor(loc)
		if err != nil {
			return nil, fmt.Errorf("storage backend %s: %w", uri, err)
		}
		backends = append(backends, backend)
	}

	switch len(backends) {
	case 0:
		return nil, fmt.Errorf("no storage backends configured")
	case 1:
		return backends[0], nil
	default:
		return NewMultiStorageBackend(backends, sf.log), nil
	}
}

// file:///absolute/path or file://./relative/path
func (sf *StorageBackendFactory) createFileBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, loc)
	}
	return NewFileBackend(path, sf.log)
}

// s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=host:port
func (sf *StorageBackendFactory) createS3Backend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	if loc.Host == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidLocationURI, loc)
	}

	opts := S3Options{
		Region:   loc.GetParam("region"),
		Endpoint: loc.GetParam("endpoint"),
	}
	if loc.Auth != "" {
		opts.AccessKey, opts.SecretKey, _ = strings.Cut(loc.Auth, ":")
	}

	return NewS3Backend(loc.Host, strings.TrimPrefix(loc.Path, "/"), opts, sf.log)
}

// vault://host:port/mount/path?token=...&tls=true&cacert=/etc/vault/ca.pem
func (sf *StorageBackendFactory) createVaultBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	mount, dataPath, _ := strings.Cut(strings.TrimPrefix(loc.Path, "/"), "/")
	if loc.Host == "" || mount == "" {
		return nil, fmt.Errorf("%w: vault location needs a host and a mount in %s", interfaces.ErrInvalidLocationURI, loc)
	}

	scheme := "http"
	if loc.GetParamBool("tls") {
		scheme = "https"
	}

	token := loc.GetParam("token")
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}

	return NewVaultBackend(scheme+"://"+loc.Host, mount, dataPath, VaultOptions{
		Token:  token,
		CACert: loc.GetParam("cacert"),
	}, sf.log)
}

// ipfs://host:port/root?timeout=30s
func (sf *StorageBackendFactory) createIPFSBackend(loc interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	host, port, found := strings.Cut(loc.Host, ":")
	if !found || port == "" {
		port = "5001"
	}
	if host == "" {
		return nil, fmt.Errorf("%w: missing IPFS host in %s", interfaces.ErrInvalidLocationURI, loc)
	}

	timeout := 30 * time.Second
	if raw := loc.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	root := loc.Path
	if strings.Trim(root, "/") == "" {
		root = "/recovery"
	}
	return NewIPFSBackend(host, port, root, timeout, sf.log)
}

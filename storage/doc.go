// Package storage archives content-addressed blobs through pluggable
// backends and provides the Archiver used to keep commit receipts.
//
// Backends are selected by location URI:
//
//	file:///var/lib/recovery/archive
//	s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=minio:9000
//	vault://vault.example.com:8200/secret/recovery?token=...&tls=true
//	ipfs://127.0.0.1:5001/recovery
//
// Content identifiers are BLAKE3 hashes of the stored bytes. Each content
// type is kept in its own namespace within a backend.
package storage

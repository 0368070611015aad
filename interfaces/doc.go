// Package interfaces defines the core types and interfaces of the share
// recovery system, separating interface definitions from implementations.
//
// # Domain Types
//
// Account: a vault owner with a credential hash, a public key and a
// client-encrypted private key blob.
//
// TrustEdge: a directed trust relationship from a principal to a recovery
// agent. Only the agent may accept it; either party may delete it.
//
// ShareRecord: an opaque encrypted share blob custodied for an owner by a
// holder, either as a steady-state Backup or as a Replacement submitted
// during a recovery session.
//
// RecoverySession and Submission: an open recovery attempt and the
// replacement shares collected for it, at most one per agent.
//
// # Errors
//
// Every failure crossing the service boundary is an *Error carrying one of
// the Kind values. KindOf extracts the kind from any wrapped error.
//
// # Collaborator Interfaces
//
// IdentityLookup, CredentialHasher, Notifier and Archiver are consumed by
// the recovery package and implemented by sqlstore, cryptoutils, mailer
// and storage respectively.
//
// # Storage Interfaces
//
// StorageBackend: content-addressed storage for archived recovery receipts
// across multiple backend types (file, S3, IPFS, Vault).
package interfaces

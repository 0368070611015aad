package interfaces

import "context"

// IdentityLookup resolves a username, email or numeric id to an account.
// It returns an error of kind NotFound when no account matches.
type IdentityLookup interface {
	FindByIdentifier(ctx context.Context, identifier string) (*Account, error)
}

// CredentialHasher hashes client-side credential hashes for storage.
type CredentialHasher interface {
	Hash(raw []byte) (string, error)
	Verify(raw []byte, stored string) (bool, error)
}

// Notifier delivers templated messages. Delivery is best effort: false
// means the message was not handed off, and the failure is logged by the
// implementation.
type Notifier interface {
	Notify(ctx context.Context, address, templateKey string, data map[string]any) bool
}

// Archiver persists a snapshot of a value to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, contentType ContentType, value any) (ContentID, error)
}

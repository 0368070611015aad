/*
Package clients is a Go client for the share recovery API.

RecoveryClient signs requests with the account's P-256 key when one is
configured. Operations that need no signature (registration, opening and
committing a recovery) work on a client without a key.

	c := clients.NewRecoveryClient("http://localhost:8080", accountID, key)
	edge, err := c.RequestTrust(ctx, "bob@example.com", sealedShare)
*/
package clients

/*
Package handlers binds the recovery service to HTTP.

Every response is a JSON envelope:

	{"success": true, "data": {...}, "message": ""}

Failures carry success=false and a message safe to show to the caller.
Storage failures are reported with a generic message; the cause is only
logged.

# Authentication

Principals and agents authenticate each request by signing it with the
account's P-256 key:

	X-Account-ID:        42
	X-Account-Signature: base64(ASN.1 ECDSA(sha256(path || body)))

The recovery requester has lost their credentials, so the session
endpoints (abandon and commit) are authorized by possession of the session
id returned when the recovery was opened.
*/
package handlers

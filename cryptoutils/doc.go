// Package cryptoutils provides the cryptographic helpers used around share
// custody.
//
// Nothing here reads a share. Shares reach the server already sealed to
// their holder's public key and are handled as opaque bytes.
//
// # Keys
//
// Accounts are identified by NIST P-256 key pairs in PEM form: PKIX
// "PUBLIC KEY" blocks and SEC 1 "EC PRIVATE KEY" blocks. GenerateKeyPair
// creates one.
//
// # Sealing
//
// SealToPublicKey and OpenWithPrivateKey use go-ethereum's ECIES with the
// P-256 parameters: an uncompressed ephemeral point, a concatenation KDF
// over the shared secret, AES-128-CTR and an HMAC-SHA256 tag over the IV
// and ciphertext.
//
// # Credentials
//
// Argon2Hasher stores client-side credential hashes as PHC-formatted
// argon2id strings.
//
// # Request Signing
//
// SignMessage and VerifyMessage produce and check base64 ASN.1 ECDSA
// signatures over SHA-256 of the length-prefixed method, path, timestamp
// and body of a request.
//
// # Fingerprints
//
// Fingerprint is the BLAKE3-256 digest used to match share payloads.
package cryptoutils

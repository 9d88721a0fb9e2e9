// Package secretcodec protects small secrets at rest and verifies detached
// device signatures.
//
// Codec seals values such as TOTP seeds with XChaCha20-Poly1305 under a key
// derived from a configured server secret. VerifySignature checks ECDSA
// signatures produced by enrolled devices against their JSON Web Key.
package secretcodec

// Package totp implements RFC 6238 time-based one-time passwords together
// with otpauth:// enrollment URIs and QR rendering for authenticator apps.
package totp

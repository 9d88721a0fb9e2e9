// Package jwt issues and verifies the signed session token handed to clients
// after a completed login, and the short-lived pending token that bridges the
// password step and the second factor.
package jwt

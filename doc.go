// Package goCustodyAuth authenticates users of a banking application and
// brokers their session against a custodial backoffice.
//
// An [Engine] built through [Builder] composes password login, TOTP step-up,
// biometric challenge/response login and delegated backoffice token
// acquisition into one signed session token. Engine methods are safe for
// concurrent use.
//
// # Login outcomes
//
// Every login ends in one of three states: a session token carrying a fresh
// backoffice delegation, a pending second-factor token (password login with
// two-factor enabled), or an error. Pending tokens never carry a delegation
// and are rejected by [Engine.VerifySession].
//
// # Ordering
//
// The backoffice is contacted only after every local factor has been proven,
// and before any local state tied to its result is written, so a backoffice
// outage never leaves a half-applied login.
package goCustodyAuth

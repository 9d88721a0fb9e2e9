// Package backoffice exchanges a user's delegated credentials for a
// short-lived backoffice access token.
//
// Client speaks the two OAuth endpoints of the custodial backoffice. Broker
// applies the acquisition policy: the connection-token call first, the
// refresh-token call once if that fails, and nothing more.
package backoffice

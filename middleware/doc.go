// Package middleware adapts the engine's session verification to net/http.
//
// [RequireSession] reads the Authorization bearer token, verifies it with
// Engine.VerifySession and stores the claims for custodyauth.SessionFromContext.
// Rejections are written as the ErrorBody envelope with custodyauth.HTTPStatus.
// [ClientMeta] forwards the remote IP and User-Agent into the request context.
package middleware

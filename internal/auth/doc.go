// Package auth protects the coordinator's HTTP control API.
//
// # Tokens
//
// Operators and the admin CLI authenticate with HS256 JWTs signed with
// control.jwt_secret:
//
//	v, err := NewJWTVerifier(secret)
//	token, err := v.Generate("ops-desk", 720*time.Hour)
//	subject, err := v.Verify(token)
//
// Tokens carry the subject, issuer "checkaso", issue time and expiry.
// Expiry is mandatory.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware wraps a handler, reads "Authorization: Bearer <jwt>"
// (or ?access_token= on WebSocket upgrades) and stores an AuthContext in
// the request context. Handlers read it back with FromContext or Subject.
//
// The agent wire protocol is not covered by this package. Sessions on the
// command channel are accepted from any host that completes the handshake.
package auth

// Package auth provides authentication for stream-gateway.
//
// # Authentication Methods
//
//   - JWT Tokens: Clients authenticate with JWT bearer tokens signed with
//     HS256 using the configured jwt_secret. The principal ID is carried in
//     the "sub" claim.
//
//   - API Keys: Long-lived sgk_-prefixed keys issued via the CLI, stored as
//     bcrypt hashes, and exchanged for short-lived JWTs.
//
// # Context Propagation
//
// The HTTP middleware attaches an AuthContext to the request context; use
// FromContext to retrieve the authenticated principal in handlers.
package auth

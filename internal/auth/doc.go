// Package auth gates state-changing requests behind a shared-secret JWT.
//
// # Model
//
// There is no tenancy and no role system. When auth.jwt_secret is configured,
// every write (HTTP POST, or a gRPC method listed as a write) must carry an
// HS256 token signed with that secret, issued by "forgestate" and carrying a
// subject and an expiry. Reads are always anonymous.
//
// Tokens are minted with the CLI:
//
//	forgestate token --sub ops-laptop --ttl 720h
//
// # Transports
//
//   - RequireWriteToken wraps an http.Handler and reads the Authorization header.
//   - UnaryInterceptor reads the "authorization" gRPC metadata key.
//
// Both store the verified subject in the request context (see FromContext) so
// handlers can log who changed the state.
package auth

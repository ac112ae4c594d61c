// Package auth implements the authorization server for mercat-gateway.
//
// # Flows
//
// Agent clients obtain tokens through a PKCE authorization-code flow:
//
//  1. The operator surface calls IssueCode for a user it has authenticated
//     out-of-band, supplying the client's S256 code challenge.
//  2. The client exchanges the code at /oauth/token with its verifier. The
//     code is consumed exactly once (an atomic conditional update in the
//     store), then an HS256 access token and a refresh token are minted.
//  3. Refreshing rotates the refresh token: the old record is revoked and
//     the new one links back to it. Presenting an already-rotated token
//     revokes the entire rotation chain, since reuse indicates theft.
//
// Access token verification is stateless (signature + expiry only), so
// revocation takes effect on the next refresh cycle rather than immediately.
//
// # Identity propagation
//
// Verified tokens produce an Identity that is attached to the request
// context with WithIdentity and read downstream with IdentityFromContext.
// Nothing below the gateway re-parses credentials.
package auth

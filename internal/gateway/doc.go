// Package gateway implements the tool-call surface agents talk to.
//
// # Overview
//
// The gateway exposes two agent-facing operations over a session-oriented
// JSON-RPC 2.0 transport: discover_resources searches the paid-content
// catalog, and fetch_content retrieves a resource's content through the
// metered pipeline. A separate operator-guarded management API handles
// client registration, catalog writes, connector credentials, spending caps
// and receipt lookups.
//
// # Transport
//
// A single endpoint accepts JSON-RPC requests over HTTP POST:
//
//   - POST /rpc - JSON-RPC calls (initialize, discover_resources, fetch_content)
//   - DELETE /rpc - terminate a session
//
// The initialize call authenticates with a bearer access token, binds the
// resulting identity to a fresh session id and returns that id in the
// Mercat-Session-Id header. Subsequent calls present the header; the bound
// identity is used without re-verifying the token. A call carrying an
// unknown session id may rebind it with a fresh bearer token. Closing a
// session requires a bearer token for the bound user and clears the binding.
//
// # Fetch pipeline
//
// fetch_content runs, in order: resource lookup, price quote, spending-cap
// evaluation, connector-mediated fetch, a cap re-check against the actual
// delivered cost, settlement. The per-user lock is held from the cap check
// through the settlement write. The settled receipt is returned with its
// signature so the caller can verify it offline. Cap rejections come
// back as a structured error (code 402) carrying the violated limit, current
// usage and the quote; unknown resources produce code 404; origin failures
// code 502 with the upstream status.
//
// # Error envelopes
//
// Protocol failures use the standard JSON-RPC codes. Unexpected internal
// failures are logged and collapsed to a generic internal-error envelope so
// transport responses never leak internals.
package gateway

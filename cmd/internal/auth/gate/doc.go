// Package gate resolves the "auth" cookie on every request.
//
// Each request lands in one of four states: no token, a token naming a live
// session, a token naming an expired session, or a token naming nothing.
// Live sessions are touched (sliding expiry) and attached to the request
// context together with their user. Expired sessions are revoked and the
// client's cookie is cleared unless the handler set a new one itself.
// Unknown tokens are treated exactly like a missing cookie.
package gate

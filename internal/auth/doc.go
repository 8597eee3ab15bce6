// Package auth issues and validates the bearer tokens that guard the
// brokerlink admin API.
//
// It implements a 2-tier role model (viewer → operator) with:
//   - HS256-signed JWT access tokens carrying the caller's role
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Tokens are stateless: there is no refresh flow and no revocation list.
// Rotating the configured secret invalidates every outstanding token.
package auth

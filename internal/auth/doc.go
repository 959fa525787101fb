// Package auth provides API authentication and the backend credential.
//
// API callers present an HS256 JWT whose claims carry a Role (viewer,
// operator, admin). Roles map to a static permission set; there is no
// database lookup on the request path.
//
// Outbound requests to the remote backend take their bearer token from a
// TokenSource. StaticTokenSource serves the configured token and refuses
// it once its exp claim has passed, which lets the sync engine fail fast
// with an authorisation error instead of making doomed calls.
package auth

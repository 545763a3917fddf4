// Package common contains shared constants and sentinel errors used across
// kbsync components.
package common

// AuthorizationHeaderName is the HTTP header carrying the bearer access token.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the token value in the Authorization header.
const BearerPrefix = "Bearer "

// AccessTokenQueryName is accepted as a fallback for websocket handshakes,
// where browsers cannot set custom headers.
const AccessTokenQueryName = "access_token"

// Package session keeps the session half of workgate in Redis: the one current
// jti per principal and the logout blacklist.
//
// # Keys
//
//	<prefix>:cur:<kind>:<id>   current jti, refreshed to the configured TTL on every write
//	<prefix>:bl:<jti>          blacklist entry, expires with the token
//
// Blacklist values use a compact binary encoding so an entry can be inspected
// without a second lookup. The encoder is append-only: new versions add fields
// but never reinterpret old ones.
//
// # What this package must NOT do
//
//   - Parse or sign tokens.
//   - Make authorization decisions.
package session

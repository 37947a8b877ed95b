// Package audit relays security events (logins, session conflicts, authorization
// denials, two-factor outcomes, new devices) to a Sink without blocking the caller.
//
// The Engine decides which events to emit; this package only buffers and delivers.
// It must not import workgate or any sibling internal package.
package audit

// Package rate implements the Redis-backed login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - wg:ll:<kind>:<identifier>  failed logins per principal identifier
//   - wg:lip:<ip>                failed logins per client IP
//
// A missing Redis client disables throttling; callers treat a nil *Limiter as "allow".
package rate

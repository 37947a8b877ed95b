// Package internal holds helpers private to workgate: one-time code
// generation and constant-time code comparison.
//
// # Sub-packages
//
//   - audit: async security event dispatch
//   - notify: outbound email worker pool with pacing and retries
//   - rate: Redis-backed login throttle
//   - ids: sortable row ids for store backends
//   - httpapi: HTTP surface of workgate-server
package internal

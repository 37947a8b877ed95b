// Package workgate is the permission and session core of an HR application:
// credential login with single-session JWTs, a logout blacklist, role/route/action
// authorization, an emailed two-factor gate and device tracking.
//
// Engine methods are safe to call from multiple goroutines once [Builder.Build]
// returns.
//
// # Request pipeline
//
// Every protected request runs [Engine.Verify], then optionally
// [Engine.RequireFreshTwoFactor], then [Engine.Authorize]. Package middleware
// composes the three for net/http in that order.
//
// # Sessions
//
// A principal has exactly one current jti. [Engine.Login] overwrites it, so
// every older token fails Verify with [ErrSessionConflict]. [Engine.Logout]
// blacklists the jti until the token would have expired.
//
// # Persistence
//
// The Engine only talks to the [Store] interfaces. [MemoryStore] keeps state in
// process; package store/pg implements them on PostgreSQL and package session
// moves jti tracking and the blacklist to Redis.
//
// # What this package must NOT do
//
//   - Send mail itself. Outbound mail goes through a [Mailer].
//   - Import any sub-package that re-imports workgate.
//   - Let store errors leak past [ErrInternal].
package workgate

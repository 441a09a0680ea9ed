// Package remote defines the contract of the underlying session-oriented
// storage service: a Session whose lifecycle is reported through push
// callbacks, and a Service whose resource calls block until the remote round
// trip completes. Implementations live in driveops (Microsoft Graph) and
// remotetest (in-memory). The bridge and connection packages depend only on
// this package, never on a concrete implementation.
package remote

// Package ratelimit is a fixed-window request counter keyed by action and
// identity (user id, falling back to client ip).
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// What this does protect against:
//   - a single account or ip spamming votes and hot topics
//   - a single ip flooding the api (global per-ip rule)
//   - gives observability into who is being denied, with one log line per
//     offender per window and a counter for every denial
//
// What this does NOT protect against:
//   - distributed attacks across many ips or accounts
//   - the fixed-window boundary burst: a client can send max requests at the
//     end of one window and max again at the start of the next, so up to
//     2*max requests can land inside one window length
//
// Counters reset when the process restarts and are not coordinated across
// instances.
package ratelimit

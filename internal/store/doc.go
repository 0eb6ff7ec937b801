// Package store holds the domain records (votes, summaries, matches, hot
// topics) and the backends that persist them.
//
// Memory is used for local development and tests. Redis is the production
// backend, records are msgpack encoded. Summaries can be moved to S3 with
// WithSummaries so snapshots survive a redis flush and keep a history.
package store

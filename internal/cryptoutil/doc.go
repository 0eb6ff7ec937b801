// Package cryptoutil holds constant-time comparison helpers for shared secrets.
package cryptoutil

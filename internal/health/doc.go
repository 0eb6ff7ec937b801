// Package health provides composable probes and the HTTP handlers behind
// /-/healthy and /-/ready.
//
// [All] combines probes, [Fixed] is a static result, and [Dependency] wraps a
// backing service check such as the store ping with a timeout.
// [ShutdownGate] fails readiness during the shutdown drain.
package health

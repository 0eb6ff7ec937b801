package opshttp

import (
	"net/http"

	"github.com/keithlinneman/stancemap/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe

	UseRecoverMW bool
	// OnPanic is called for each recovered panic, e.g. to count them in prometheus
	OnPanic func()
}

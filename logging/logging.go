// Package logging provides the structured logger shared across the actor
// runtime and recipe service. Every component logs through Get, which tags
// its entries with a "component" field (e.g. component=mailbox,
// component="recipe service").
package logging

import (
	"github.com/sirupsen/logrus"
)

// base is the process-wide logger instance.
var base = logrus.New()

// SetDebug switches the logger between info and debug level. Production
// deployments run at info: there are still informational messages worth
// surfacing, just not the verbose per-message tracing debug enables.
func SetDebug(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// Get returns a logger entry tagged with the given component name, e.g.
// logging.Get("mailbox").WithField("device", id).Warn("queue full")
func Get(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Base returns the underlying logrus logger, for callers (such as the
// engine's main wiring) that need to configure output/formatter directly.
func Base() *logrus.Logger {
	return base
}

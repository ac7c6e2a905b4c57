// Package dispatch is the dispatch hub of a data-integration service: a unified
// job scheduler that accepts ad-hoc invocations over REST, fires registered jobs
// on cron timetables, and dispatches jobs on signed external webhooks.
//
// The package composes three independent dispatch mechanisms behind one
// integration facade:
//
//	import "oss.nandlabs.io/dispatch"          // Facade: unified lifecycle + routing
//	import "oss.nandlabs.io/dispatch/registry" // API-driven job registry
//	import "oss.nandlabs.io/dispatch/cron"     // Time-driven cron engine
//	import "oss.nandlabs.io/dispatch/webhook"  // Event-driven webhook dispatcher
//
// Supporting packages (logging, codec, HTTP routing, pooling) are carried
// over from the oss.nandlabs.io/golly toolkit this module was built from.
package dispatch

/*
Package metrics provides Prometheus metrics collection and exposition for gitgres.

Metrics are registered once at package init and updated inline by the odb,
refdb, and remotehelper packages as they do work — there is no
separate collection loop for counters and histograms. Collector is the one
piece that does poll on a timer, and only for the gauges that have no
natural "event" to hook (open connections, locks currently held).

Categories:

  - odb: objects read/written, read/write latency, ambiguous prefix lookups
  - writepack: objects ingested, session duration, failures
  - refdb: CAS write outcomes, glob iteration latency, advisory lock wait time
  - remote-helper: objects copied per fetch/push, per-object copy failures
  - session: open connections, transaction outcomes (the transaction
    counter is registered, but no package in this module increments it)

Handler exposes the registry over HTTP for scraping; HealthHandler,
ReadyHandler, and LivenessHandler serve a small JSON status API for
process supervisors, built around a package-level HealthChecker that
callers report into via RegisterComponent/UpdateComponent. No package in
this module calls RegisterComponent outside its tests, so readiness stays
"not_ready" until a caller registers dbsession, odb, and refdb.
*/
package metrics

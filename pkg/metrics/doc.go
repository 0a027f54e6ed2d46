/*
Package metrics provides Prometheus metrics collection and exposition for
coldvault.

It defines the full set of gauges, counters and histograms covering the
catalog (block/fileset counts, wasted-space accounting), the remote
volume state machine, and the backup/restore/compaction/repair pipelines.
Handler exposes them over HTTP for scraping; Collector periodically polls
the catalog and volume manager for the gauges that aren't updated inline
by the pipelines themselves (e.g. WastedBytes, which only changes as a
side effect of backup/compaction, not on every tick).

health.go additionally exposes a small liveness/readiness component
registry (RegisterComponent, GetHealth, GetReadiness) independent of
Prometheus, for a process supervisor that only needs a yes/no answer.
*/
package metrics

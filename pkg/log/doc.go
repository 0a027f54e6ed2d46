/*
Package log provides structured logging for coldvault using zerolog.

It wraps a single global zerolog.Logger, configured once via Init, and
exposes component-scoped child loggers (WithComponent, WithFileset,
WithVolume, WithOperation) so every log line from the backup pipeline,
restore pipeline, compaction engine and catalog carries enough context
to reconstruct which operation, fileset or remote volume it belongs to
without threading a logger through every function signature by hand.

Console output is used by default (human-readable, colorized); JSONOutput
switches to newline-delimited JSON for ingestion by a log aggregator,
which is the expected mode when coldvault runs unattended under a
scheduler (itself out of scope for this module).
*/
package log

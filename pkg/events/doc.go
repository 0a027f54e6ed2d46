/*
Package events provides an in-memory progress broker for backup, restore,
compaction and repair operations.

It is deliberately topic-agnostic: every event type is broadcast to every
subscriber, and publish never blocks on a slow or absent subscriber. This
keeps the pipeline stages in pkg/backup and pkg/restore free of any
knowledge of who (if anyone) is listening — an external progress-reporting
UI is the expected consumer, but none is required for an operation to run.

Subscribers that fall behind drop events rather than stall the publisher;
progress reporting is best-effort, never a synchronization point.
*/
package events

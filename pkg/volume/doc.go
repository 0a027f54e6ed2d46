/*
Package volume drives the remote container lifecycle state machine:

	Temporary -> Uploading -> Uploaded -> Verified -> Deleting -> Deleted

A Manager owns the state transitions and persists them through a
CatalogStore (the subset of pkg/catalog it needs); the actual bytes move
through a Backend, an external collaborator interface with one production
implementation expected per supported object store (filesystem, S3-
compatible bucket, SFTP, ...) — none is provided here. MemoryBackend is an
in-process fake used by tests.

Backend errors (network blips, throttling) are retried under exponential
backoff via cenkalti/backoff; once retries are exhausted the last error is
returned wrapped with the volume name, without a cverrors kind. Deletion is soft: BeginDelete stamps a grace
deadline so a volume in the Deleting state can still be read by an
in-flight restore; FinalizeDelete is a separate, explicit call.
*/
package volume

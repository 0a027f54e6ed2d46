/*
Package archive implements the three remote container formats — dlist
(Files), dblock (Blocks), dindex (Index) — described in spec.md §6, on top
of archive/zip for its Zip64 support. A Writer/Reader pair exists per
container kind; none of them compress or encrypt on their own. A caller
wraps the underlying io.Writer/io.Reader with its chosen Compressor and
Encryptor (see codec.go) first — this package only ever sees already-prepared
bytes, matching spec.md §1's exclusion of codec implementations themselves.
*/
package archive

/*
Package catalog is the embedded relational store behind coldvault's block,
fileset and remote-volume bookkeeping (pkg/types's entity model, queried as
SQL rather than walked as an in-memory graph). Catalog wraps a single
*sql.DB against modernc.org/sqlite; Batch wraps one *sql.Tx and is the
unit every pipeline phase writes through — begin it, do the phase's work,
commit or roll back.

VerifyConsistency checks the catalog's block-reference invariants using an
in-memory roaring.Bitmap for the large membership comparison (referenced
vs. all blocks) and falls back to SQL anti-joins for the directional
orphan checks a bitmap alone can't express, plus a blockset length-
accounting check and, in strict mode, block size/hash-length shape
checks. ChangeStatistics diffs two filesets' FilesetEntry rows to report
added/deleted/modified counts by entry kind.

Catalog also implements the small collaborator interfaces pkg/metrics and
pkg/volume expect (CatalogSource, CatalogStore) so those packages don't
need to import this one directly.
*/
package catalog

/*
Package types defines the catalog's entity model: the cyclic relational
graph of blocks, blocksets, files, filesets and remote volumes described
in the data model (§3 of the design spec). These are plain structs with
surrogate integer keys — cyclic object graphs (volume ↔ block, fileset ↔
file ↔ blockset) are represented relationally, not as in-memory pointer
graphs, because pkg/catalog persists and queries them as SQL rows.

Every other package (pkg/catalog, pkg/backup, pkg/restore, pkg/compact,
pkg/repair, pkg/archive) imports this package for its shared vocabulary;
it imports nothing else in this module.
*/
package types

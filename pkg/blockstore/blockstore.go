// Package blockstore holds the pure, I/O-free functions shared by the
// backup, restore and compaction pipelines: content hashing, blocklist
// chunk math, and remote volume filename construction/parsing.
package blockstore

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HashBlock returns the base64 digest identifying a block's content. Two
// blocks with the same (hash, size) pair are treated as identical.
func HashBlock(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HashStringLen is the fixed length, in bytes, of every string HashBlock
// returns. Blocklist block payloads are the unseparated concatenation of
// these strings, so a reader that only has the concatenated bytes (no
// delimiters) needs this constant to split them back into individual
// hashes.
func HashStringLen() int {
	return base64.StdEncoding.EncodedLen(sha256.Size)
}

// BlocklistCapacity returns how many block hashes fit in one blocklist
// block of the given size: blocksize / hashSize, per spec.md §4.1.
func BlocklistCapacity(blockSize, hashSize int) int {
	if hashSize <= 0 {
		return 0
	}
	return blockSize / hashSize
}

// ChunkBlocklist splits a blockset's ordered block hashes into the spans
// that each fit inside one blocklist block, per BlocklistCapacity.
func ChunkBlocklist(hashes []string, capacity int) [][]string {
	if capacity <= 0 || len(hashes) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(hashes)+capacity-1)/capacity)
	for i := 0; i < len(hashes); i += capacity {
		end := i + capacity
		if end > len(hashes) {
			end = len(hashes)
		}
		chunks = append(chunks, hashes[i:end])
	}
	return chunks
}

// VolumeKind is one of the three remote container kinds named in a volume
// filename ("dlist", "dblock", "dindex").
type VolumeKind string

const (
	KindDlist  VolumeKind = "dlist"
	KindDblock VolumeKind = "dblock"
	KindDindex VolumeKind = "dindex"
)

const timeLayout = "20060102T150405Z"

// VolumeName is the parsed form of a remote container filename:
//
//	<prefix>-<yyyyMMddTHHmmssZ>-<guid>.<kind>.<compression>.<encryption>
type VolumeName struct {
	Prefix      string
	Timestamp   time.Time
	GUID        string
	Kind        VolumeKind
	Compression string // e.g. "zip", "none"
	Encryption  string // e.g. "aes", "none"
}

// NewVolumeName constructs a fresh, collision-free name for the given kind,
// stamped with the current time and a random guid.
func NewVolumeName(prefix string, kind VolumeKind, compression, encryption string, now time.Time) VolumeName {
	return VolumeName{
		Prefix:      prefix,
		Timestamp:   now.UTC(),
		GUID:        uuid.NewString(),
		Kind:        kind,
		Compression: compression,
		Encryption:  encryption,
	}
}

// String renders the volume name to its on-disk/remote filename form.
func (n VolumeName) String() string {
	return fmt.Sprintf("%s-%s-%s.%s.%s.%s",
		n.Prefix, n.Timestamp.Format(timeLayout), n.GUID, n.Kind, n.Compression, n.Encryption)
}

// ParseVolumeName reverses String, rejecting anything that doesn't have the
// full six-field shape.
func ParseVolumeName(s string) (VolumeName, error) {
	dotParts := strings.Split(s, ".")
	if len(dotParts) != 4 {
		return VolumeName{}, fmt.Errorf("malformed volume name %q: expected 4 dot-separated fields", s)
	}
	head, kind, compression, encryption := dotParts[0], dotParts[1], dotParts[2], dotParts[3]

	// A canonical uuid has 5 dash-separated segments (8-4-4-4-12), so the
	// trailing 5 fields of head are always the guid, the field before that
	// is the timestamp, and everything earlier is the prefix (which may
	// itself contain dashes).
	dashParts := strings.Split(head, "-")
	if len(dashParts) < 7 {
		return VolumeName{}, fmt.Errorf("malformed volume name %q: expected prefix-timestamp-guid", s)
	}
	guid := strings.Join(dashParts[len(dashParts)-5:], "-")
	timestamp := dashParts[len(dashParts)-6]
	prefix := strings.Join(dashParts[:len(dashParts)-6], "-")

	ts, err := time.Parse(timeLayout, timestamp)
	if err != nil {
		return VolumeName{}, fmt.Errorf("malformed volume name %q: bad timestamp: %w", s, err)
	}
	if _, err := uuid.Parse(guid); err != nil {
		return VolumeName{}, fmt.Errorf("malformed volume name %q: bad guid: %w", s, err)
	}

	switch VolumeKind(kind) {
	case KindDlist, KindDblock, KindDindex:
	default:
		return VolumeName{}, fmt.Errorf("malformed volume name %q: unknown kind %q", s, kind)
	}

	return VolumeName{
		Prefix:      prefix,
		Timestamp:   ts,
		GUID:        guid,
		Kind:        VolumeKind(kind),
		Compression: compression,
		Encryption:  encryption,
	}, nil
}

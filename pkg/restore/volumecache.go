package restore

import (
	"github.com/VictoriaMetrics/fastcache"
)

// VolumeCache holds recently-fetched Blocks volume bodies in memory, keyed
// by volume name, so a restore session that touches the same volume more
// than once (overlapping block requests across files, a retried decode
// after a transient error) doesn't re-download it from the backend. It
// plays the role the pipelined architecture gives a dedicated
// VolumeManager stage: deduplicating in-flight and recent fetches.
type VolumeCache struct {
	c *fastcache.Cache
}

// DefaultVolumeCacheBytes caps the cache at a size comparable to a
// handful of packed Blocks volumes.
const DefaultVolumeCacheBytes = 256 * 1024 * 1024

// NewVolumeCache creates a cache capped at maxBytes of volume bodies.
func NewVolumeCache(maxBytes int) *VolumeCache {
	if maxBytes <= 0 {
		maxBytes = DefaultVolumeCacheBytes
	}
	return &VolumeCache{c: fastcache.New(maxBytes)}
}

func (vc *VolumeCache) get(name string) ([]byte, bool) {
	if vc == nil {
		return nil, false
	}
	data := vc.c.GetBig(nil, []byte(name))
	return data, data != nil
}

func (vc *VolumeCache) put(name string, data []byte) {
	if vc == nil {
		return
	}
	vc.c.SetBig([]byte(name), data)
}

// Reset evicts every cached volume body.
func (vc *VolumeCache) Reset() {
	if vc == nil {
		return
	}
	vc.c.Reset()
}

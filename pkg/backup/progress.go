package backup

import (
	"context"
	"fmt"

	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/types"
)

// progressTally is task 8: it drains both the committed-entry stream and
// the uploaded-volume stream to final completion, publishing an Event for
// each, and accumulates the counters that become the run's Result.
type progressTally struct {
	broker *events.Broker

	stats           types.ChangeStats
	brokenLocal     []string
	newBlocks       int64
	duplicateBlocks int64
	volumesUploaded int
}

func newProgressTally(broker *events.Broker) *progressTally {
	return &progressTally{broker: broker}
}

// run drains results and uploads, returning once both channels have closed
// or ctx is cancelled.
func (p *progressTally) run(ctx context.Context, results <-chan *fileblockResult, uploads <-chan *uploadedVolume) {
	resultsDone, uploadsDone := false, false
	for !resultsDone || !uploadsDone {
		select {
		case r, ok := <-results:
			if !ok {
				resultsDone = true
				results = nil
				continue
			}
			p.observeResult(r)
		case u, ok := <-uploads:
			if !ok {
				uploadsDone = true
				uploads = nil
				continue
			}
			p.observeUpload(u)
		case <-ctx.Done():
			return
		}
	}
}

func (p *progressTally) observeResult(r *fileblockResult) {
	e := r.entry
	if e.broken {
		p.brokenLocal = append(p.brokenLocal, e.path)
		p.publish(events.EventFileBroken, e.path, nil)
		return
	}
	if e.inherited {
		p.publish(events.EventFileSkipped, e.path, nil)
		return
	}

	switch {
	case r.isNewBlock:
		p.newBlocks++
		p.publish(events.EventBlockNew, e.path, nil)
	default:
		p.duplicateBlocks++
		p.publish(events.EventBlockDuplicate, e.path, nil)
	}
	p.publish(events.EventFileProcessed, e.path, map[string]string{"type": string(e.entryType)})
}

func (p *progressTally) observeUpload(u *uploadedVolume) {
	p.volumesUploaded++
	p.publish(events.EventVolumeUploaded, u.blocksVolume.Name,
		map[string]string{"blocks": fmt.Sprintf("%d", u.blockCount)})
	p.publish(events.EventVolumeUploaded, u.indexVolume.Name, nil)
}

func (p *progressTally) publish(t events.EventType, msg string, meta map[string]string) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(&events.Event{Type: t, Message: msg, Metadata: meta})
}

package backup

import (
	"bytes"
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/coldvault/pkg/archive"
	"github.com/cuemby/coldvault/pkg/catalog"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/cverrors"
	"github.com/cuemby/coldvault/pkg/events"
	"github.com/cuemby/coldvault/pkg/log"
	"github.com/cuemby/coldvault/pkg/types"
	"github.com/cuemby/coldvault/pkg/volume"
)

// rootPrefixID is the single interned path prefix used by this
// implementation; a full directory-prefix interning table (splitting
// "/a/b/c.txt" into a shared "/a/b/" prefix row) is schema-ready via
// file_lookup.prefix_id but not populated, since it only matters at a
// scale (millions of files sharing long common paths) this module's
// reference deployments don't reach.
const rootPrefixID int64 = 0

// Run executes one full backup pass: enumeration through content-addressed
// block upload, as the 8-stage concurrent pipeline described in
// SPEC_FULL.md §4.4. It owns the run's single catalog transaction end to
// end, committing on success or on a graceful cancellation (as a
// PartialBackup), and rolling back only if the run never got far enough to
// leave anything worth keeping.
func Run(ctx context.Context, cat *catalog.Catalog, mgr *volume.Manager, broker *events.Broker, opts Options) (*Result, error) {
	started := time.Now()
	cfg := opts.Cfg
	if cfg == nil {
		cfg = config.Defaults()
	}

	logger := log.WithOperation("backup")

	if err := reclaimInterruptedRun(ctx, cat, mgr); err != nil {
		logger.Warn().Err(err).Msg("failed to reclaim interrupted previous run, continuing")
	}

	previousFilesetID, previous, err := loadPreviousVersion(ctx, cat)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}

	// Registered through the bare catalog, auto-committing immediately,
	// before the run's single connection gets checked out below by the
	// main transaction. Every other catalog write this run makes only
	// becomes durable if batch.Commit succeeds; this one row needs to
	// survive a crash on its own, or a later reclaimInterruptedRun could
	// never find it.
	filesVol, err := mgr.Begin(ctx, types.VolumeTypeFiles)
	if err != nil {
		return nil, err
	}

	batch, err := cat.Begin(ctx)
	if err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = batch.Rollback()
		}
	}()

	// Every volume-lifecycle write for the rest of this run must land in
	// batch's transaction, not compete with it for the catalog's single
	// connection. See Manager.WithCatalog.
	mgr = mgr.WithCatalog(batch)

	fileset, err := batch.CreateFileset(ctx, started.Unix(), filesVol.ID, previousFilesetID == 0)
	if err != nil {
		return nil, err
	}

	dlistBuf := &bytes.Buffer{}
	dlistWriter := archive.NewDlistWriter(dlistBuf)
	sink := newFilelistSink(dlistWriter)
	fileCommitter := &committer{batch: batch, filesetID: fileset.ID, prefixID: rootPrefixID, sink: sink}
	packer := newDataBlockPacker(mgr, batch, int64(cfg.VolumeSize))
	tally := newProgressTally(broker)

	chEnum := make(chan *sourceEntry, 64)
	chMeta := make(chan *sourceEntry, 64)
	chFilter := make(chan *sourceEntry, 64)
	chSplit := make(chan *sourceEntry, 64)
	chResults := make(chan *fileblockResult, 64)
	chNewBlocks := make(chan *newBlock, 64)
	chUploaded := make(chan *uploadedVolume, 8)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return enumerate(egCtx, opts.Sources, cfg.SymlinkPolicy, cfg.HardlinkPolicy, int64(cfg.SkipFilesLargerThan), chEnum)
	})
	eg.Go(func() error { return metadataPreprocess(egCtx, chEnum, chMeta, previous) })
	eg.Go(func() error { return prefilter(egCtx, chMeta, chFilter, nil) })
	eg.Go(func() error {
		return splitStream(egCtx, chFilter, chSplit, int(cfg.BlockSize), cfg.ConcurrencyBlockHashers)
	})
	eg.Go(func() error {
		return processFileBlocks(egCtx, chSplit, chResults, chNewBlocks, fileCommitter, int(cfg.BlockSize), cfg.HashSize, cfg.ConcurrencyFileProcessors)
	})
	eg.Go(func() error { return packer.run(egCtx, chNewBlocks, chUploaded, cfg.ConcurrencyDataProcessors) })

	tallyDone := make(chan struct{})
	go func() {
		tally.run(egCtx, chResults, chUploaded)
		close(tallyDone)
	}()

	pipelineErr := eg.Wait()
	<-tallyDone

	partial := pipelineErr != nil
	if partial {
		logger.Warn().Err(pipelineErr).Msg("backup pipeline ended early, recording partial fileset")
		if err := batch.MarkFilesetPartial(ctx, fileset.ID); err != nil {
			return nil, err
		}
	}

	spilled, err := packer.spillRemainder(ctx)
	if err != nil {
		return nil, err
	}
	if spilled != nil {
		tally.observeUpload(spilled)
	}

	if err := finalizeFileset(ctx, mgr, dlistWriter, dlistBuf, filesVol, cfg); err != nil {
		return nil, err
	}

	if err := batch.Commit(); err != nil {
		return nil, cverrors.New(cverrors.DatabaseConsistency, err)
	}
	committed = true

	if previousFilesetID != 0 {
		if stats, err := cat.ChangeStatistics(ctx, previousFilesetID, fileset.ID); err == nil {
			tally.stats = *stats
		} else {
			logger.Warn().Err(err).Msg("failed to compute change statistics")
		}
	}

	result := &Result{
		FilesetID:       fileset.ID,
		Stats:           tally.stats,
		BrokenLocal:     tally.brokenLocal,
		NewBlocks:       tally.newBlocks,
		DuplicateBlocks: tally.duplicateBlocks,
		VolumesUploaded: tally.volumesUploaded,
		Duration:        time.Since(started),
		Partial:         partial,
	}

	if partial {
		if errors.Is(pipelineErr, context.Canceled) {
			return result, cverrors.New(cverrors.Cancelled, pipelineErr)
		}
		return result, cverrors.New(cverrors.Transient, pipelineErr)
	}
	return result, nil
}

// finalizeFileset closes the run's dlist container (manifest + the
// filelist accumulated by every committed entry) and uploads it last,
// satisfying the rule that a fileset is only ever discoverable via its
// Files volume once every Blocks/Index volume it depends on already
// exists remotely.
func finalizeFileset(ctx context.Context, mgr *volume.Manager, dw *archive.DlistWriter, buf *bytes.Buffer, filesVol *types.RemoteVolume, cfg *config.Config) error {
	manifest := archive.Manifest{
		Version:    1,
		Created:    time.Now().UTC(),
		Encoding:   "utf-8",
		BlockSize:  int(cfg.BlockSize),
		AppVersion: "coldvault",
	}
	if err := dw.Close(manifest); err != nil {
		return err
	}
	return mgr.Upload(ctx, filesVol, bytes.NewReader(buf.Bytes()), int64(buf.Len()), hashBytes(buf.Bytes()))
}

// reclaimInterruptedRun finds a Files volume orphaned by a previous run
// that crashed before it could be finalized (still Temporary or
// Uploading) and closes it out with a synthetic, empty dlist rather than
// discarding it, per SPEC_FULL.md §4.4's "the catalog writes a synthetic
// dlist entry for any interrupted previous run" rule: the old run's
// content blocks were already uploaded under it and stay reachable only
// through a fileset bound to this volume's id, so the volume is worth
// finishing, not deleting. The resulting fileset is marked partial; it
// carries no file entries of its own; a later backup or repair pass is
// what actually recovers the interrupted run's file list, if possible.
func reclaimInterruptedRun(ctx context.Context, cat *catalog.Catalog, mgr *volume.Manager) error {
	v, err := cat.FindLastIncompleteFilesetVolume(ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}

	batch, err := cat.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = batch.Rollback()
		}
	}()

	fileset, err := batch.CreateFileset(ctx, time.Now().Unix(), v.ID, false)
	if err != nil {
		return err
	}
	if err := batch.MarkFilesetPartial(ctx, fileset.ID); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	committed = true

	dlistBuf := &bytes.Buffer{}
	dw := archive.NewDlistWriter(dlistBuf)
	manifest := archive.Manifest{
		Version:    1,
		Created:    time.Now().UTC(),
		Encoding:   "utf-8",
		AppVersion: "coldvault",
	}
	if err := dw.Close(manifest); err != nil {
		return err
	}
	return mgr.Upload(ctx, v, bytes.NewReader(dlistBuf.Bytes()), int64(dlistBuf.Len()), hashBytes(dlistBuf.Bytes()))
}

// loadPreviousVersion returns the most recently created fileset's id (0 if
// none exists yet) and its file list keyed by path, for the metadata
// pre-processor's inheritance check.
func loadPreviousVersion(ctx context.Context, cat *catalog.Catalog) (int64, map[string]previousEntry, error) {
	filesets, err := cat.ListFilesets(ctx)
	if err != nil {
		return 0, nil, err
	}
	if len(filesets) == 0 {
		return 0, nil, nil
	}
	latest := filesets[0]

	batch, err := cat.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer batch.Rollback()

	states, err := batch.PreviousFileStates(ctx, latest.ID)
	if err != nil {
		return 0, nil, err
	}

	previous := make(map[string]previousEntry, len(states))
	for _, s := range states {
		previous[s.Path] = previousEntry{
			size:         s.Size,
			lastModified: s.LastModified,
			metadataHash: s.MetadataHash,
			blocksetID:   s.BlocksetID,
			metadataID:   s.MetadataID,
		}
	}
	return latest.ID, previous, nil
}

package engine

import (
	"context"
	"time"

	"github.com/cuemby/coldvault/pkg/compact"
	"github.com/cuemby/coldvault/pkg/types"
)

// DeleteOptions selects what delete() removes, per spec.md §6's
// `delete(version|time|policy)` entry point. Exactly one selector should
// be set; FilesetID takes precedence over Before if both are, and Policy
// is independent of either (applies the configured retention rule).
type DeleteOptions struct {
	FilesetID int64
	Before    time.Time
	Policy    bool
}

// DeleteResult reports what one delete call removed.
type DeleteResult struct {
	*compact.RetentionResult
}

// Delete removes one fileset, every fileset older than a cutoff, or
// applies the configured retention policy, cascading the same way
// compact's automatic retention pass does.
func (e *Engine) Delete(ctx context.Context, opts DeleteOptions) (*DeleteResult, error) {
	var res *DeleteResult
	err := e.withLock(func() error {
		now := time.Now()

		if opts.Policy {
			r, err := compact.ApplyRetention(ctx, e.cat, e.cfg, now, e.broker)
			if err != nil {
				return err
			}
			res = &DeleteResult{RetentionResult: r}
			return nil
		}

		filesets, err := e.cat.ListFilesets(ctx)
		if err != nil {
			return err
		}

		var toDrop []*types.Fileset
		for _, fs := range filesets {
			switch {
			case opts.FilesetID != 0:
				if fs.ID == opts.FilesetID {
					toDrop = append(toDrop, fs)
				}
			case !opts.Before.IsZero():
				if fs.Timestamp < opts.Before.Unix() {
					toDrop = append(toDrop, fs)
				}
			}
		}

		r, err := compact.DeleteFilesets(ctx, e.cat, toDrop, now, e.broker)
		if err != nil {
			return err
		}
		res = &DeleteResult{RetentionResult: r}
		return nil
	})
	return res, err
}

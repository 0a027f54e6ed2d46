package backup

import "context"

// prefilterFunc reports whether an entry should proceed (true) or be
// dropped from the backup (false) — exclusion rules that need the stat
// info already gathered by the enumerator (attribute filters, read-only
// flags under a policy that skips them, etc).
type prefilterFunc func(*sourceEntry) bool

// prefilter is task 3: applies exclusion rules needing stat info. Inherited
// entries always pass through, since they were already accepted in a
// previous run.
func prefilter(ctx context.Context, in <-chan *sourceEntry, out chan<- *sourceEntry, accept prefilterFunc) error {
	defer close(out)
	for e := range in {
		if e.broken || e.inherited || accept == nil || accept(e) {
			if err := forward(ctx, out, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Package gc implements the retention sweep described in §4.8: compute
// which archived states fall outside the retention window, decrement the
// file-object ref counts their manifests held, and delete whatever file
// objects and archived state directories are left with no remaining
// referent.
package gc

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/stratapm/strata/internal/hashid"
	"github.com/stratapm/strata/internal/objstore"
	"github.com/stratapm/strata/internal/statedb"
)

// DefaultRetainCount is how many of the most recently archived states are
// always kept regardless of age, so a single bad rollback target never
// vanishes out from under an operator mid-incident.
const DefaultRetainCount = 3

// Collector runs retention sweeps over a state ledger and its backing
// object store.
type Collector struct {
	db     *statedb.Store
	store  *objstore.Store
	prefix string // the same install-prefix root statemgr.Manager uses, for archive-<id> directories

	retainCount int
	retainFor   time.Duration
}

// New returns a Collector. retainCount keeps at least that many of the
// newest archived states no matter their age; retainFor additionally keeps
// any archived state younger than that duration. A state must fail both
// checks to be swept.
func New(db *statedb.Store, store *objstore.Store, prefix string, retainCount int, retainFor time.Duration) *Collector {
	if retainCount <= 0 {
		retainCount = DefaultRetainCount
	}
	return &Collector{db: db, store: store, prefix: prefix, retainCount: retainCount, retainFor: retainFor}
}

// Report summarizes one sweep.
type Report struct {
	StatesDeleted  int
	ObjectsDeleted int
}

// Sweep computes the retention set, decrements ref counts for every
// archived state outside it, deletes the now-unreferenced file objects,
// and removes the swept states' rows and archive directories. Sweep is
// idempotent: running it again immediately with nothing newly archived in
// between finds nothing left to do.
func (c *Collector) Sweep(ctx context.Context, now time.Time) (Report, error) {
	history, err := c.db.History(ctx)
	if err != nil {
		return Report{}, err
	}

	var archived []statedb.State
	for _, st := range history {
		if st.Status == statedb.StatusArchived {
			archived = append(archived, st)
		}
	}

	var report Report
	for _, st := range c.retentionSet(archived, now) {
		files, err := c.db.StateFiles(ctx, st.ID)
		if err != nil {
			return report, err
		}

		hashes := make([]hashid.Content, len(files))
		for i, f := range files {
			hashes[i] = f.Hash
		}
		if err := c.db.DecrementFileRefs(ctx, hashes); err != nil {
			return report, err
		}

		if err := os.RemoveAll(filepath.Join(c.prefix, archiveDirName(st.ID))); err != nil && !os.IsNotExist(err) {
			return report, err
		}
		if err := c.db.DeleteArchivedState(ctx, st.ID); err != nil {
			return report, err
		}
		report.StatesDeleted++
	}

	unreferenced, err := c.db.FindUnreferencedFiles(ctx)
	if err != nil {
		return report, err
	}
	for _, hash := range unreferenced {
		if err := c.store.Delete(hash); err != nil {
			return report, err
		}
		if err := c.db.ForgetFileObject(ctx, hash); err != nil {
			return report, err
		}
		report.ObjectsDeleted++
	}

	return report, nil
}

// retentionSet returns the archived states eligible for deletion: every
// archived state beyond the c.retainCount most recent (by ID, since IDs
// are monotonically increasing) that is also older than c.retainFor.
// archived is expected in the newest-first order History() returns.
func (c *Collector) retentionSet(archived []statedb.State, now time.Time) []statedb.State {
	if len(archived) <= c.retainCount {
		return nil
	}
	candidates := archived[c.retainCount:]

	var out []statedb.State
	for _, st := range candidates {
		if c.retainFor <= 0 {
			out = append(out, st)
			continue
		}
		createdAt, err := time.Parse("2006-01-02T15:04:05.999999999Z", st.CreatedAt)
		if err != nil || now.Sub(createdAt) >= c.retainFor {
			out = append(out, st)
		}
	}
	return out
}

func archiveDirName(stateID int64) string {
	return "archive-" + itoa(stateID)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

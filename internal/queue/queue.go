// Package queue implements the client's input-directory poller: it scans
// the configured spool directories in priority order, filters out
// in-progress and already-inflight files, sorts the survivors, and hands
// them out one at a time to the send loop. Grounded on the teacher's
// collector.Run discipline of collecting a whole batch into a slice before
// handing it to the next stage, per spec.md §4.2.
package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/noaa-ldm/prodxfer/internal/product"
	"github.com/noaa-ldm/prodxfer/internal/ptable"
)

// minAge is how long a zero-length file is given to grow before it's
// assumed done (and therefore let through to fail downstream) rather than
// still being written. Named A_FEW_SECONDS in the original.
const minAge = 3 * time.Second

// entry is one snapshot slot: a candidate file plus the metadata the sort
// and wait-last-file checks need.
type entry struct {
	path     string
	mtime    time.Time
	size     int64
	priority int
}

// Poller scans Dirs (highest priority first) and serves the next eligible
// file to the send loop. It is not safe for concurrent use; the send loop
// owns it exclusively.
type Poller struct {
	// Dirs lists the input spool directories in priority order: Dirs[0]
	// is highest priority.
	Dirs []string
	// RefreshInterval is how long a snapshot is reused before the
	// directories are re-scanned. <=0 disables time-based re-scans: the
	// directories are then re-scanned only once the snapshot is exhausted.
	RefreshInterval time.Duration
	// MaxQueueLen caps how many entries a single scan collects across
	// all directories before it stops early to start sending. <=0 means
	// unbounded.
	MaxQueueLen int
	// WaitLastFile withholds the most-recently-arrived entry in a
	// snapshot until a newer entry supersedes it, for spool directories
	// with no other way to tell a complete file from one still being
	// written. See Next for the exact semantics.
	WaitLastFile bool

	// Now is the clock, overridable in tests.
	Now func() time.Time

	snapshot []entry
	pos      int
	lastScan time.Time
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Poller) needsRescan() bool {
	if p.pos >= len(p.snapshot) {
		return true
	}
	if p.RefreshInterval > 0 && p.now().Sub(p.lastScan) >= p.RefreshInterval {
		return true
	}
	return false
}

// rescan re-populates the snapshot from the input directories, skipping
// entries already in flight (on the product table's awaiting-ack or retry
// lists). Directories that fail to open are skipped, not fatal: the next
// scan will retry them.
func (p *Poller) rescan(inFlight map[string]struct{}) error {
	p.snapshot = p.snapshot[:0]
	p.pos = 0

	priority := len(p.Dirs)
outer:
	for _, dir := range p.Dirs {
		priority--

		entries, err := os.ReadDir(dir)
		if err != nil {
			// Directory may have been removed; keep polling the rest.
			continue
		}

		for _, de := range entries {
			name := de.Name()
			if len(name) > 0 && name[0] == '.' {
				continue
			}
			full := filepath.Join(dir, name)

			fi, err := os.Lstat(full)
			if err != nil {
				continue
			}
			mode := fi.Mode()
			if mode&os.ModeSymlink != 0 {
				// Follow the link once; skip entries whose target can't
				// be stat'd (broken link).
				fi, err = os.Stat(full)
				if err != nil {
					continue
				}
				mode = fi.Mode()
			}
			if !mode.IsRegular() {
				continue
			}
			if mode.Perm()&0o444 == 0 {
				// Nobody has read permission; treat as in-progress.
				continue
			}
			if fi.Size() == 0 && p.now().Sub(fi.ModTime()) < minAge {
				continue
			}
			if _, busy := inFlight[full]; busy {
				continue
			}

			p.snapshot = append(p.snapshot, entry{
				path:     full,
				mtime:    fi.ModTime(),
				size:     fi.Size(),
				priority: priority,
			})

			if p.MaxQueueLen > 0 && len(p.snapshot) >= p.MaxQueueLen {
				break outer
			}
		}
	}

	sort.SliceStable(p.snapshot, func(i, j int) bool {
		if p.snapshot[i].priority != p.snapshot[j].priority {
			return p.snapshot[i].priority > p.snapshot[j].priority
		}
		return p.snapshot[i].mtime.Before(p.snapshot[j].mtime)
	})

	p.lastScan = p.now()
	return nil
}

// Next returns the next eligible product, allocating it into a fresh slot
// of table. remaining is the queue length including the returned entry (0
// means the queue is empty and p is nil); err is non-nil only on an
// allocation failure (the table has no free slots), in which case the
// snapshot position is not advanced so the same entry is retried next
// call.
//
// WaitLastFile semantics are grounded on client_queue.c's
// get_next_file: the candidate at the current position is only served if
// WaitLastFile is off, or its mtime is strictly earlier than the mtime of
// the last entry in the current snapshot. The snapshot is sorted by
// priority then ascending mtime, so with a single directory every entry
// after a failing head (same or later mtime) fails the check too. With
// several directories a later, lower-priority entry can be older than the
// last entry; Next still does not look past the head and reports an empty
// queue.
func (p *Poller) Next(table *ptable.Table, inFlight map[string]struct{}) (remaining int, idx int, p2 *product.Product, err error) {
	if p.needsRescan() {
		if err := p.rescan(inFlight); err != nil {
			return -1, 0, nil, err
		}
	}

	if p.pos >= len(p.snapshot) {
		return 0, 0, nil, nil
	}

	head := p.snapshot[p.pos]
	last := p.snapshot[len(p.snapshot)-1]
	if p.WaitLastFile && !head.mtime.Before(last.mtime) {
		return 0, 0, nil, nil
	}

	idx, prod, ok := table.Allocate()
	if !ok {
		return 0, 0, nil, fmt.Errorf("queue: no free product-table slot for %s", head.path)
	}

	prod.Filename = head.path
	prod.Size = head.size
	prod.QueueTime = head.mtime.Unix()
	prod.Priority = head.priority
	prod.State = product.StateQueued

	p.pos++
	return len(p.snapshot) - p.pos + 1, idx, prod, nil
}

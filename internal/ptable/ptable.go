// Package ptable implements the client's product table: a fixed-size pool
// of product slots partitioned across three FIFO lists (free, awaiting-ack,
// retry). Per design note 9, intrusive linked lists sharing one pool are
// replaced here with three bounded rings of slot indices over one backing
// array — the index-ring alternative the design notes call out explicitly,
// grounded on the teacher's cache.Cache discipline of swapping whole
// generations of a map rather than mutating links in place.
package ptable

import (
	"fmt"

	"github.com/noaa-ldm/prodxfer/internal/product"
)

// listID names one of the three FIFO lists a slot can belong to.
type listID int

const (
	listFree listID = iota
	listAwaitingAck
	listRetry
	numLists
)

// ring is a fixed-capacity FIFO queue of slot indices.
type ring struct {
	buf        []int
	head, tail int
	count      int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]int, capacity)}
}

func (r *ring) push(slot int) {
	if r.count == len(r.buf) {
		panic("ptable: ring overflow")
	}
	r.buf[r.tail] = slot
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
}

func (r *ring) pop() (int, bool) {
	if r.count == 0 {
		return 0, false
	}
	slot := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return slot, true
}

func (r *ring) peek() (int, bool) {
	if r.count == 0 {
		return 0, false
	}
	return r.buf[r.head], true
}

func (r *ring) reset() {
	r.head, r.tail, r.count = 0, 0, 0
}

// Table is the fixed-size product-table pool. Each of the WindowSize slots
// is on at most one of the three lists. Allocate, PopRetry, PopAwaitingAck
// and Ack take a slot off its list and leave it on none until the caller
// calls MoveToAwaitingAck, MoveToRetry or Free, so the invariant
// free.count + awaitingAck.count + retry.count == WindowSize holds only
// while no slot is held by a caller in that way.
type Table struct {
	slots      []product.Product
	owner      []listID
	free       *ring
	awaitingAck *ring
	retry      *ring
	windowSize int
}

// New allocates a table of windowSize slots, all initially free.
func New(windowSize int) *Table {
	t := &Table{
		slots:       make([]product.Product, windowSize),
		owner:       make([]listID, windowSize),
		free:        newRing(windowSize),
		awaitingAck: newRing(windowSize),
		retry:       newRing(windowSize),
		windowSize:  windowSize,
	}
	for i := 0; i < windowSize; i++ {
		t.slots[i].State = product.StateFree
		t.owner[i] = listFree
		t.free.push(i)
	}
	return t
}

// WindowSize returns the table's fixed capacity.
func (t *Table) WindowSize() int { return t.windowSize }

// FreeCount, AwaitingAckCount, RetryCount report each list's current length.
func (t *Table) FreeCount() int        { return t.free.count }
func (t *Table) AwaitingAckCount() int { return t.awaitingAck.count }
func (t *Table) RetryCount() int       { return t.retry.count }

// Allocate pops a slot from the free list, marks it StateQueued, and
// returns a pointer to it along with its index. It returns false if the
// free list is empty.
func (t *Table) Allocate() (idx int, p *product.Product, ok bool) {
	idx, ok = t.free.pop()
	if !ok {
		return 0, nil, false
	}
	t.owner[idx] = -1 // not yet on any list; caller must MoveToAwaitingAck, MoveToRetry or Free
	t.slots[idx] = product.Product{State: product.StateQueued}
	return idx, &t.slots[idx], true
}

// Slot returns a pointer to the product at idx.
func (t *Table) Slot(idx int) *product.Product { return &t.slots[idx] }

// MoveToAwaitingAck appends idx to the awaiting-ack list and sets its state.
func (t *Table) MoveToAwaitingAck(idx int) {
	t.slots[idx].State = product.StateSent
	t.owner[idx] = listAwaitingAck
	t.awaitingAck.push(idx)
}

// MoveToRetry appends idx to the retry list and sets its state.
func (t *Table) MoveToRetry(idx int) {
	t.slots[idx].State = product.StateRetry
	t.owner[idx] = listRetry
	t.retry.push(idx)
}

// PopRetry removes and returns the head of the retry list, if any.
func (t *Table) PopRetry() (idx int, p *product.Product, ok bool) {
	idx, ok = t.retry.pop()
	if !ok {
		return 0, nil, false
	}
	t.owner[idx] = -1
	return idx, &t.slots[idx], true
}

// PopAwaitingAck removes and returns the head of the awaiting-ack list,
// if any, without any seqno validation. Used when a fresh connection
// rebills every still-unacknowledged product onto the retry list
// (spec.md §4.3 step 2), as opposed to Ack, which is reserved for an
// actual network acknowledgement.
func (t *Table) PopAwaitingAck() (idx int, p *product.Product, ok bool) {
	idx, ok = t.awaitingAck.pop()
	if !ok {
		return 0, nil, false
	}
	t.owner[idx] = -1
	return idx, &t.slots[idx], true
}

// PeekAwaitingAckHead returns the index of the head of the awaiting-ack
// list without removing it.
func (t *Table) PeekAwaitingAckHead() (idx int, p *product.Product, ok bool) {
	idx, ok = t.awaitingAck.peek()
	if !ok {
		return 0, nil, false
	}
	return idx, &t.slots[idx], true
}

// Free returns a slot directly to the free list, regardless of which list
// currently owns it. It does not validate ownership: callers must only call
// this for a slot they have already popped off its prior list (e.g. the
// index returned by Ack, which pops the head once the seqno matches).
func (t *Table) Free(idx int) {
	t.slots[idx] = product.Product{State: product.StateFree}
	t.owner[idx] = listFree
	t.free.push(idx)
}

// Ack resolves the Open Question noted in spec.md §9: the product whose
// state is finalized is always the one actually at the head of the
// awaiting-ack list, looked up fresh here, never a loop-scoped index
// threaded in from the caller. It pops the head, returns it to the caller
// for final disposition (sent-dir or fail-dir move), and the caller must
// subsequently call Free or MoveToRetry on the returned index — Ack itself
// only removes the head from awaiting-ack, it does not decide the slot's
// fate.
func (t *Table) Ack(seqno int) (idx int, p *product.Product, err error) {
	idx, ok := t.awaitingAck.pop()
	if !ok {
		return 0, nil, fmt.Errorf("ptable: ack for seqno %d but awaiting-ack list is empty", seqno)
	}
	if t.slots[idx].Seqno != seqno {
		// Put it back so Rebuild/diagnostics can see the real state; the
		// caller is expected to treat this as a fatal protocol error and
		// tear down the connection per spec.md §4.4.
		t.awaitingAck.head = (t.awaitingAck.head - 1 + len(t.awaitingAck.buf)) % len(t.awaitingAck.buf)
		t.awaitingAck.count++
		return 0, nil, fmt.Errorf("ptable: ack seqno mismatch: head has %d, got %d", t.slots[idx].Seqno, seqno)
	}
	t.owner[idx] = -1
	return idx, &t.slots[idx], nil
}

// InFlightPaths returns the set of filenames currently on the awaiting-ack
// or retry lists, for the poller's dedup pass (spec.md §4.2 step 3).
func (t *Table) InFlightPaths() map[string]struct{} {
	out := make(map[string]struct{}, t.awaitingAck.count+t.retry.count)
	collect := func(r *ring) {
		for i := 0; i < r.count; i++ {
			idx := r.buf[(r.head+i)%len(r.buf)]
			out[t.slots[idx].Filename] = struct{}{}
		}
	}
	collect(t.awaitingAck)
	collect(t.retry)
	return out
}

// Rebuild re-derives all three lists from each slot's State field alone.
// It is a recovery procedure only, never called on the hot path. The client
// engine does not call it: the engine runs no consistency check of its own,
// so Rebuild runs only where a caller invokes it directly (today, tests).
func (t *Table) Rebuild() {
	t.free.reset()
	t.awaitingAck.reset()
	t.retry.reset()
	for i := range t.slots {
		switch t.slots[i].State {
		case product.StateQueued, product.StateRetry:
			t.owner[i] = listRetry
			t.retry.push(i)
		case product.StateSent:
			t.owner[i] = listAwaitingAck
			t.awaitingAck.push(i)
		default:
			t.slots[i].State = product.StateFree
			t.owner[i] = listFree
			t.free.push(i)
		}
	}
}

// CheckInvariant verifies free+awaitingAck+retry == windowSize and that
// every slot appears on exactly one list. Only tests call it; no production
// code checks the invariant.
func (t *Table) CheckInvariant() error {
	total := t.free.count + t.awaitingAck.count + t.retry.count
	if total != t.windowSize {
		return fmt.Errorf("ptable: list counts sum to %d, want %d", total, t.windowSize)
	}
	seen := make([]int, t.windowSize)
	mark := func(r *ring) error {
		for i := 0; i < r.count; i++ {
			idx := r.buf[(r.head+i)%len(r.buf)]
			seen[idx]++
		}
		return nil
	}
	mark(t.free)
	mark(t.awaitingAck)
	mark(t.retry)
	for i, n := range seen {
		if n != 1 {
			return fmt.Errorf("ptable: slot %d appears on %d lists, want 1", i, n)
		}
	}
	return nil
}

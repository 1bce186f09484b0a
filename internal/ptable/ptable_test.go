package ptable

import (
	"testing"

	"github.com/go-test/deep"
	"github.com/noaa-ldm/prodxfer/internal/product"
)

func TestNewTableAllFree(t *testing.T) {
	tbl := New(4)
	if tbl.FreeCount() != 4 || tbl.AwaitingAckCount() != 0 || tbl.RetryCount() != 0 {
		t.Fatalf("got free=%d ack=%d retry=%d, want 4/0/0", tbl.FreeCount(), tbl.AwaitingAckCount(), tbl.RetryCount())
	}
	if err := tbl.CheckInvariant(); err != nil {
		t.Fatal(err)
	}
}

func TestAllocateSendAckCycle(t *testing.T) {
	tbl := New(2)

	idx, p, ok := tbl.Allocate()
	if !ok {
		t.Fatal("Allocate failed on fresh table")
	}
	p.Seqno = 0
	p.Filename = "/input/a"
	tbl.MoveToAwaitingAck(idx)

	if tbl.FreeCount() != 1 || tbl.AwaitingAckCount() != 1 {
		t.Fatalf("got free=%d ack=%d, want 1/1", tbl.FreeCount(), tbl.AwaitingAckCount())
	}

	headIdx, headP, ok := tbl.PeekAwaitingAckHead()
	if !ok || headP.Seqno != 0 {
		t.Fatalf("peek head: got idx=%d p=%+v ok=%v", headIdx, headP, ok)
	}

	ackedIdx, ackedP, err := tbl.Ack(0)
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if ackedIdx != idx || ackedP.Filename != "/input/a" {
		t.Fatalf("Ack returned idx=%d p=%+v, want idx=%d filename=/input/a", ackedIdx, ackedP, idx)
	}
	tbl.Free(ackedIdx)

	if err := tbl.CheckInvariant(); err != nil {
		t.Fatal(err)
	}
	if tbl.FreeCount() != 2 {
		t.Fatalf("got free=%d, want 2", tbl.FreeCount())
	}
}

func TestAckSeqnoMismatchIsError(t *testing.T) {
	tbl := New(1)
	idx, p, _ := tbl.Allocate()
	p.Seqno = 5
	tbl.MoveToAwaitingAck(idx)

	if _, _, err := tbl.Ack(6); err == nil {
		t.Fatal("expected error for mismatched seqno")
	}
	// The head must still be there and findable after the failed Ack.
	_, headP, ok := tbl.PeekAwaitingAckHead()
	if !ok || headP.Seqno != 5 {
		t.Fatalf("head lost after failed Ack: %+v ok=%v", headP, ok)
	}
}

func TestRebuildRederivesListsFromState(t *testing.T) {
	tbl := New(3)
	tbl.slots[0].State = product.StateSent
	tbl.slots[1].State = product.StateRetry
	tbl.slots[2].State = product.StateFree

	tbl.Rebuild()

	if err := tbl.CheckInvariant(); err != nil {
		t.Fatal(err)
	}
	if tbl.AwaitingAckCount() != 1 || tbl.RetryCount() != 1 || tbl.FreeCount() != 1 {
		t.Fatalf("got free=%d ack=%d retry=%d, want 1/1/1", tbl.FreeCount(), tbl.AwaitingAckCount(), tbl.RetryCount())
	}
}

func TestInFlightPaths(t *testing.T) {
	tbl := New(3)
	i1, p1, _ := tbl.Allocate()
	p1.Filename = "/input/a"
	tbl.MoveToAwaitingAck(i1)

	i2, p2, _ := tbl.Allocate()
	p2.Filename = "/input/b"
	tbl.MoveToRetry(i2)

	got := tbl.InFlightPaths()
	want := map[string]struct{}{"/input/a": {}, "/input/b": {}}
	if diff := deep.Equal(got, want); diff != nil {
		t.Errorf("InFlightPaths diff: %v", diff)
	}
}

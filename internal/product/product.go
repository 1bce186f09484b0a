// Package product defines the central Product entity and its lifecycle
// states, per spec.md §3.
package product

import "github.com/noaa-ldm/prodxfer/internal/wmo"

// State is the lifecycle stage of a product slot.
type State int

const (
	// StateFree means the slot is available to be assigned a new product.
	StateFree State = iota
	// StateQueued means the poller has populated the slot from the input
	// spool but it has not yet been sent.
	StateQueued
	// StateSent means the product has been written to the socket and is
	// awaiting an acknowledgement.
	StateSent
	// StateAcked is a transient marker set just before the slot returns to
	// StateFree after a K ack.
	StateAcked
	// StateNacked is a transient marker set just before the slot returns
	// to StateFree after an F ack.
	StateNacked
	// StateRetry means the product is queued for retransmission, either
	// from a dropped connection or an R ack.
	StateRetry
	// StateFailed means the product exhausted its retry budget.
	StateFailed
	// StateDead means the product exceeded its queue TTL before being
	// sent.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateQueued:
		return "queued"
	case StateSent:
		return "sent"
	case StateAcked:
		return "acked"
	case StateNacked:
		return "nacked"
	case StateRetry:
		return "retry"
	case StateFailed:
		return "failed"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Product is one in-flight bulletin, client- or server-side. Fields mirror
// spec.md §3's table exactly.
type Product struct {
	Seqno     int    // 0..99999, client-assigned, monotonic modulo 100000
	Filename  string // absolute path; mutates as the file moves between directories
	Size      int64  // body byte count excluding any stripped CCB prefix
	CCBLen    int    // length of stripped CCB framing prefix (0 if not stripped)
	QueueTime int64  // seconds since epoch; first observed mtime of source file
	SendTime  int64  // seconds since epoch; most recent transmit start
	SendCount int    // number of transmit attempts including the current
	Priority  int    // derived from input-directory index (higher = earlier dir)
	State     State

	// IsConnMessage marks the synthesized connection-announcement
	// product sent as seqno 0 on every fresh connection. It is never
	// retried on an R ack and never sourced from the input spool.
	IsConnMessage bool

	WMO wmo.Heading
}

// TotalSize is the size of the product as it was in the original file:
// body size plus any CCB prefix that was stripped before transmission (the
// CCB prefix never goes on the wire, so this exceeds the wire size by
// CCBLen).
func (p *Product) TotalSize() int64 {
	return p.Size + int64(p.CCBLen)
}

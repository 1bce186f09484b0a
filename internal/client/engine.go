// Package client implements the send loop described by spec.md §4.3 and
// §4.4: poll the input spool, stream products to the current server with
// automatic host failover, and collect acknowledgements. Grounded on
// eventsocket's client MustRun reconnect shape (dial, treat "closed
// network connection" as ordinary teardown, run until context
// cancellation) generalized from a single dial to a failover host list.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/rs/xid"

	"github.com/noaa-ldm/prodxfer/internal/disposition"
	"github.com/noaa-ldm/prodxfer/internal/metrics"
	"github.com/noaa-ldm/prodxfer/internal/plog"
	"github.com/noaa-ldm/prodxfer/internal/ptable"
	"github.com/noaa-ldm/prodxfer/internal/product"
	"github.com/noaa-ldm/prodxfer/internal/queue"
	"github.com/noaa-ldm/prodxfer/internal/wire"
	"github.com/noaa-ldm/prodxfer/internal/wireconn"
	"github.com/noaa-ldm/prodxfer/internal/wmo"
)

// Config bundles the send loop's tunables. Grounded on spec.md §4.3's
// named parameters (refresh_interval, max_queue_len, window_size,
// max_retry, queue_ttl, poll_interval) plus the failover host list of
// step 2.
type Config struct {
	// Hosts is the failover list; index 0 is tried first, and a failed
	// dial rotates to the next entry, wrapping.
	Hosts []string

	DialTimeout      time.Duration
	AckTimeout       time.Duration
	PollInterval     time.Duration
	RecoveryInterval time.Duration // used after 3 consecutive failures
	MaxRetry         int           // <=0 means unlimited
	QueueTTL         time.Duration // <=0 disables TTL discard
	BufSize          int

	// ConnMessage, when non-nil, is sent as seqno 0 on every fresh
	// connection before any spooled product.
	ConnMessage *ConnMessageConfig

	SentDir *disposition.Ring
	FailDir *disposition.Ring

	// ProductLog, when non-nil, receives one END/ABORT/RETRY line per
	// product disposition, per spec.md §6.
	ProductLog *plog.Log
	LocalTag   string // this host's tag, the "from" of a product-log line

	Logger *log.Logger
}

// discardPort is the well-known TCP discard service (RFC 863). Spec.md
// §4.4 calls this out as a test/benchmark affordance: the ack path is
// short-circuited because nothing will ever answer on it.
const discardPort = "9"

// Engine is the client send loop. It is not safe for concurrent use — the
// whole point of spec.md §5's concurrency model is one thread per
// connection, and the client has exactly one.
type Engine struct {
	cfg    Config
	poller *queue.Poller
	table  *ptable.Table

	hostIdx             int
	conn                *wireconn.Conn
	seqno               int
	disconnect          bool
	noPeer              bool
	consecutiveFailures int

	// current is the slot staged for (or in the middle of) sending. It is
	// not on any ptable list while staged — ptable.Allocate leaves a slot
	// unowned until the caller moves it, and a product actively being
	// sent belongs to neither the awaiting-ack nor retry list.
	hasCurrent  bool
	currentIdx  int
	currentBody []byte
}

// NewEngine builds a send-loop engine over the given poller and product
// table.
func NewEngine(cfg Config, poller *queue.Poller, table *ptable.Table) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Engine{cfg: cfg, poller: poller, table: table}
}

// Run drives the send loop until ctx is cancelled, matching spec.md §5's
// "INT/TERM sets a shutdown flag" via context cancellation instead of
// signals, per design note 9.
func (e *Engine) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		e.handleDisconnect()

		if e.conn == nil {
			if err := e.connect(ctx); err != nil {
				e.consecutiveFailures++
				e.sleep(ctx)
				continue
			}
			e.consecutiveFailures = 0
		}

		e.acquireNext()
		e.discardExpired()
		e.sendCurrent(ctx)
		e.collectAcks(ctx)
		e.sleep(ctx)
	}
	if e.conn != nil {
		e.conn.Close()
	}
	return ctx.Err()
}

// handleDisconnect tears down a socket the rest of the loop has flagged as
// dead, pushing any in-flight product back to retry, per spec.md §4.3
// step 1.
func (e *Engine) handleDisconnect() {
	if !e.disconnect || e.conn == nil {
		return
	}
	if e.noPeer {
		e.conn.SetLinger(true)
		metrics.DisconnectCount.WithLabelValues("no-peer").Inc()
	} else {
		metrics.DisconnectCount.WithLabelValues("io-error").Inc()
	}
	e.conn.Close()
	e.conn = nil
	e.disconnect = false
	e.noPeer = false

	if e.hasCurrent {
		p := e.table.Slot(e.currentIdx)
		if p.IsConnMessage {
			e.table.Free(e.currentIdx)
		} else {
			e.table.MoveToRetry(e.currentIdx)
		}
		e.hasCurrent = false
		e.currentBody = nil
	}
}

// connect dials the current host, failing over through cfg.Hosts on
// error, resets the sequence counter, and rebills every product still on
// the awaiting-ack list (except the connection message, which is never
// retried) onto the retry list, per spec.md §4.3 step 2.
func (e *Engine) connect(ctx context.Context) error {
	if len(e.cfg.Hosts) == 0 {
		return errors.New("client: no hosts configured")
	}
	host := e.cfg.Hosts[e.hostIdx%len(e.cfg.Hosts)]

	d := net.Dialer{Timeout: e.cfg.DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		e.hostIdx = (e.hostIdx + 1) % len(e.cfg.Hosts)
		return fmt.Errorf("client: dial %s: %w", host, err)
	}

	e.conn = wireconn.Wrap(raw)
	e.seqno = 0
	if e.cfg.ProductLog != nil {
		e.cfg.ProductLog.Connect(host, xid.New().String())
	}

	head := true
	for {
		idx, p, ok := e.table.PopAwaitingAck()
		if !ok {
			break
		}
		if p.IsConnMessage {
			e.table.Free(idx)
			continue
		}
		// The head product keeps its send-count; every other in-flight
		// product gets it decremented by one so a reconnect doesn't
		// over-bill them against max_retry, per spec.md §4.3 step 2.
		if !head && p.SendCount > 0 {
			p.SendCount--
		}
		head = false
		e.table.MoveToRetry(idx)
	}

	if e.cfg.ConnMessage != nil {
		idx, p, ok := e.table.Allocate()
		if ok {
			body := e.cfg.ConnMessage.Build(time.Now())
			p.Filename = ""
			p.Size = int64(len(body))
			p.QueueTime = time.Now().Unix()
			p.IsConnMessage = true
			p.State = product.StateQueued
			e.hasCurrent = true
			e.currentIdx = idx
			e.currentBody = body
		}
	}

	return nil
}

// acquireNext stages the next product to send, preferring the retry list
// over the poller, and only when there's room in the window, per spec.md
// §4.3 step 3.
func (e *Engine) acquireNext() {
	if e.hasCurrent {
		return
	}
	if e.table.AwaitingAckCount() >= e.table.WindowSize() {
		return
	}

	if idx, p, ok := e.table.PopRetry(); ok {
		body, err := os.ReadFile(p.Filename)
		if err != nil {
			e.cfg.Logger.Printf("client: re-read retry file %s: %v", p.Filename, err)
			e.table.Free(idx)
			return
		}
		e.hasCurrent = true
		e.currentIdx = idx
		e.currentBody = body
		return
	}

	remaining, idx, p, err := e.poller.Next(e.table, e.table.InFlightPaths())
	if err != nil {
		e.cfg.Logger.Printf("client: poll error: %v", err)
		return
	}
	metrics.QueueDepthGauge.Set(float64(remaining))
	if p == nil {
		return
	}
	body, err := os.ReadFile(p.Filename)
	if err != nil {
		e.cfg.Logger.Printf("client: read %s: %v", p.Filename, err)
		e.table.Free(idx)
		return
	}
	e.hasCurrent = true
	e.currentIdx = idx
	e.currentBody = body
}

// discardExpired marks the staged product dead and dispositions it to the
// fail directory if it has sat in the queue longer than QueueTTL, per
// spec.md §4.3 step 4.
func (e *Engine) discardExpired() {
	if !e.hasCurrent || e.cfg.QueueTTL <= 0 {
		return
	}
	p := e.table.Slot(e.currentIdx)
	if p.IsConnMessage {
		return
	}
	age := time.Since(time.Unix(p.QueueTime, 0))
	if age <= e.cfg.QueueTTL {
		return
	}
	p.State = product.StateDead
	e.dispositionFail(p)
	e.table.Free(e.currentIdx)
	e.hasCurrent = false
	e.currentBody = nil
}

// sendCurrent streams the staged product to the server and moves it to
// awaiting-ack on success, per spec.md §4.3 steps 5 and "Streaming one
// product".
func (e *Engine) sendCurrent(ctx context.Context) {
	if !e.hasCurrent || e.conn == nil {
		return
	}
	p := e.table.Slot(e.currentIdx)

	if e.cfg.MaxRetry > 0 && p.SendCount > e.cfg.MaxRetry && !p.IsConnMessage {
		p.State = product.StateFailed
		e.dispositionFail(p)
		e.table.Free(e.currentIdx)
		e.hasCurrent = false
		e.currentBody = nil
		return
	}
	p.SendCount++
	p.SendTime = time.Now().Unix()

	body := e.currentBody
	ccbLen := 0
	if !p.IsConnMessage {
		ccbLen = stripCCB(body)
		body = body[ccbLen:]
		if heading, err := wmo.Parse(body); err == nil {
			p.WMO = heading
		}
	}
	p.CCBLen = ccbLen
	p.Size = int64(len(body))

	hdr, err := wire.FormatMessageHeader(len(body), e.seqno, p.QueueTime)
	if err != nil {
		p.State = product.StateFailed
		e.dispositionFail(p)
		e.table.Free(e.currentIdx)
		e.hasCurrent = false
		e.currentBody = nil
		return
	}
	p.Seqno = e.seqno

	if err := e.conn.SetWriteDeadline(time.Now().Add(e.cfg.AckTimeout)); err != nil {
		e.failSend()
		return
	}
	if _, err := e.conn.Write(hdr); err != nil {
		e.failSend()
		return
	}
	if _, err := e.conn.Write(body); err != nil {
		// Partial progress: the sequence counter still advances so a
		// resend after reconnect doesn't reuse a seqno the server may
		// have partially ingested, per spec.md §4.3's closing note.
		e.seqno = (e.seqno + 1) % (wire.MaxProdSeqno + 1)
		e.failSend()
		return
	}
	metrics.BytesTransferred.WithLabelValues("tx").Add(float64(len(hdr) + len(body)))

	e.seqno = (e.seqno + 1) % (wire.MaxProdSeqno + 1)
	e.table.MoveToAwaitingAck(e.currentIdx)
	e.hasCurrent = false
	e.currentBody = nil
	metrics.ProductTableInUseGauge.Set(float64(e.table.AwaitingAckCount()))

	if ctx.Err() != nil {
		e.disconnect = true
	}
}

func (e *Engine) failSend() {
	e.disconnect = true
	e.noPeer = true
	// The product stays staged; handleDisconnect will push it to retry
	// (or free it, if it's the connection message) on the next
	// iteration.
}

// collectAcks drains available acknowledgements from the server, applying
// each one's disposition, per spec.md §4.4.
func (e *Engine) collectAcks(ctx context.Context) {
	if e.conn == nil {
		return
	}
	for e.table.AwaitingAckCount() > 0 {
		if ctx.Err() != nil {
			return
		}

		_, headP, ok := e.table.PeekAwaitingAckHead()
		if !ok {
			return
		}

		isDiscard := isDiscardConn(e.conn.RemoteAddr())
		var seqno int
		var code wire.AckCode
		if isDiscard {
			seqno, code = headP.Seqno, wire.AckOK
		} else {
			deadline := time.Unix(headP.SendTime, 0).Add(e.cfg.AckTimeout)
			if err := e.conn.SetReadDeadline(deadline); err != nil {
				e.disconnect = true
				return
			}
			var err error
			seqno, code, err = wire.ReadAck(e.conn)
			if err != nil {
				if errors.Is(err, os.ErrDeadlineExceeded) {
					if time.Now().After(deadline) {
						e.disconnect = true
					}
					return
				}
				if errors.Is(err, io.EOF) {
					e.disconnect = true
					e.noPeer = true
					return
				}
				e.disconnect = true
				return
			}
		}

		if seqno != headP.Seqno {
			e.cfg.Logger.Printf("client: ack seqno mismatch: head=%d got=%d", headP.Seqno, seqno)
			e.disconnect = true
			return
		}

		idx, p, err := e.table.Ack(seqno)
		if err != nil {
			e.cfg.Logger.Printf("client: %v", err)
			e.disconnect = true
			return
		}

		if !isDiscard {
			metrics.AckLatencyHistogram.Observe(time.Since(time.Unix(p.SendTime, 0)).Seconds())
		}

		switch code {
		case wire.AckOK:
			p.State = product.StateAcked
			if !p.IsConnMessage {
				e.dispositionSent(p)
			}
			e.table.Free(idx)
			metrics.ProductsSent.WithLabelValues("ok").Inc()
		case wire.AckFail:
			p.State = product.StateNacked
			if !p.IsConnMessage {
				e.dispositionFail(p)
			}
			e.table.Free(idx)
			metrics.ProductsSent.WithLabelValues("fail").Inc()
		case wire.AckRetry:
			if p.IsConnMessage {
				e.table.Free(idx)
			} else {
				e.table.MoveToRetry(idx)
				if e.cfg.ProductLog != nil {
					e.cfg.ProductLog.Retry(p, time.Now(), e.cfg.LocalTag, e.currentRemoteTag())
				}
			}
			metrics.ProductsSent.WithLabelValues("retry").Inc()
		}
		metrics.ProductTableInUseGauge.Set(float64(e.table.AwaitingAckCount()))
	}
}

func isDiscardConn(addr net.Addr) bool {
	tcpAddr, ok := addr.(*net.TCPAddr)
	return ok && fmt.Sprint(tcpAddr.Port) == discardPort
}

// sleep waits out the poll interval (or the longer recovery interval,
// after three consecutive connect failures), per spec.md §4.3 step
// 7, or returns early if ctx is cancelled.
func (e *Engine) sleep(ctx context.Context) {
	d := e.cfg.PollInterval
	if e.consecutiveFailures >= 3 && e.cfg.RecoveryInterval > 0 {
		d = e.cfg.RecoveryInterval
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (e *Engine) dispositionSent(p *product.Product) {
	if e.cfg.ProductLog != nil {
		e.cfg.ProductLog.End(p, time.Now(), e.cfg.LocalTag, e.currentRemoteTag())
	}
	if e.cfg.SentDir == nil || p.Filename == "" {
		return
	}
	if dst, err := e.cfg.SentDir.Move(p.Filename); err != nil {
		e.cfg.Logger.Printf("client: disposition sent %s: %v", p.Filename, err)
	} else {
		p.Filename = dst
	}
}

func (e *Engine) dispositionFail(p *product.Product) {
	if e.cfg.ProductLog != nil {
		reason := plog.AbortNack
		detail := ""
		if p.State == product.StateDead {
			reason = plog.AbortTTL
			detail = fmt.Sprintf("%d", int64(e.cfg.QueueTTL.Seconds()))
		} else if e.cfg.MaxRetry > 0 && p.SendCount > e.cfg.MaxRetry {
			reason = plog.AbortErrors
			detail = fmt.Sprintf("%d", p.SendCount)
		}
		e.cfg.ProductLog.Abort(p, time.Now(), e.cfg.LocalTag, e.currentRemoteTag(), reason, detail)
	}
	if e.cfg.FailDir == nil || p.Filename == "" {
		return
	}
	if dst, err := e.cfg.FailDir.Move(p.Filename); err != nil {
		e.cfg.Logger.Printf("client: disposition fail %s: %v", p.Filename, err)
	} else {
		p.Filename = dst
	}
}

// currentRemoteTag reports the host this connection is (or was) talking
// to, for the product log's f(<from>,<to>) field.
func (e *Engine) currentRemoteTag() string {
	if len(e.cfg.Hosts) == 0 {
		return ""
	}
	return e.cfg.Hosts[e.hostIdx%len(e.cfg.Hosts)]
}

// stripCCB wraps wire.StripCCB with the product-specific cutoff: only the
// first 1024 bytes are even candidates for a CCB prefix.
func stripCCB(body []byte) int {
	scanWindow := body
	if len(scanWindow) > 1024 {
		scanWindow = scanWindow[:1024]
	}
	return wire.StripCCB(scanWindow)
}

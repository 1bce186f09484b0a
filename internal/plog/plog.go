// Package plog writes the structured product-transfer log lines of
// spec.md §6: one START/EXIT pair per process, one CONNECT per session,
// and an END/ABORT/RETRY line per product, plus a STATUS line every 100
// products. Grounded on the teacher's direct use of the standard library
// `log` package (main.go's `log.SetFlags(log.LstdFlags | log.Lshortfile)`)
// rather than a structured-logging library — nothing in the corpus reaches
// for one, so the fixed-field text format is built with `fmt` over a
// plain `*log.Logger`, matching that idiom.
package plog

import (
	"fmt"
	"log"
	"time"

	"github.com/noaa-ldm/prodxfer/internal/product"
)

// AbortReason labels why a product ended in ABORT, per spec.md §6.
type AbortReason string

const (
	AbortNack   AbortReason = "NACK"
	AbortTTL    AbortReason = "TTL"
	AbortErrors AbortReason = "ERRS"
)

// Log writes the fixed-format lines onto an underlying *log.Logger. It is
// not safe for concurrent use from multiple goroutines without external
// synchronization, matching the single-threaded send/receive loops that
// own it.
type Log struct {
	out       *log.Logger
	sourceTag string
	count     int
}

// New wraps l (or log.Default() if nil) for product-log output.
func New(l *log.Logger, sourceTag string) *Log {
	if l == nil {
		l = log.Default()
	}
	return &Log{out: l, sourceTag: sourceTag}
}

// Start writes the per-process START line.
func (p *Log) Start(pid int, args []string) {
	p.out.Printf("START pid(%d) args(%v)", pid, args)
}

// Exit writes the per-process EXIT line with the process's final exit
// code, per spec.md §6's exit-code table.
func (p *Log) Exit(code int) {
	p.out.Printf("EXIT code(%d)", code)
}

// Connect writes the per-session CONNECT line. sessionID is a short
// unique per-connection tag (internal/server and internal/client both
// generate one with github.com/rs/xid), replacing the original's
// pid-based per-worker naming with a value that doesn't depend on a
// forked process.
func (p *Log) Connect(remote, sessionID string) {
	p.out.Printf("CONNECT remote(%s) session(%s)", remote, sessionID)
}

// End writes a successful-delivery line of the form
// "END <timestamp> WMO[<ttaaii> <cccc> <nnnxxx>] #<seqno>
// bytes(<size>[+<ccb>]) f(<from>,<to>) /P<priority> +<sendΔ>/<ackΔ>s".
// sendΔ is the seconds from queue time to send time, ackΔ the seconds from
// send time to now. from/to are the sending and receiving hosts for this
// hop.
func (p *Log) End(pr *product.Product, now time.Time, from, to string) {
	p.line("END", pr, now, from, to)
	p.maybeStatus()
}

// Abort writes a terminal-failure line with its reason, per spec.md §6's
// "ABORT(<reason>)" grammar: NACK stands alone, TTL's detail is the queue
// TTL in seconds ("TTL <n> SECS"), and ERRS's detail is the send-count
// ("<n> ERRS").
func (p *Log) Abort(pr *product.Product, now time.Time, from, to string, reason AbortReason, detail string) {
	var reasonStr string
	switch reason {
	case AbortTTL:
		reasonStr = string(reason)
		if detail != "" {
			reasonStr = fmt.Sprintf("%s %s SECS", reason, detail)
		}
	case AbortErrors:
		reasonStr = string(reason)
		if detail != "" {
			reasonStr = fmt.Sprintf("%s ERRS", detail)
		}
	default:
		reasonStr = string(reason)
		if detail != "" {
			reasonStr = fmt.Sprintf("%s %s", reason, detail)
		}
	}
	p.line(fmt.Sprintf("ABORT(%s)", reasonStr), pr, now, from, to)
	p.maybeStatus()
}

// Retry writes a retransmission-attempt line tagged with the attempt
// count.
func (p *Log) Retry(pr *product.Product, now time.Time, from, to string) {
	p.line(fmt.Sprintf("RETRY[%d]", pr.SendCount), pr, now, from, to)
}

func (p *Log) line(tag string, pr *product.Product, now time.Time, from, to string) {
	if from == "" {
		from = p.sourceTag
	}
	ccb := ""
	if pr.CCBLen > 0 {
		ccb = fmt.Sprintf("+%d", pr.CCBLen)
	}
	sendTime := time.Unix(pr.SendTime, 0)
	sendDelta := sendTime.Sub(time.Unix(pr.QueueTime, 0)).Seconds()
	ackDelta := now.Sub(sendTime).Seconds()
	p.out.Printf("%s %s WMO[%s %s %s] #%d bytes(%d%s) f(%s,%s) /P%d +%.3f/%.3fs",
		tag, now.UTC().Format(time.RFC3339),
		pr.WMO.TTAAII, pr.WMO.CCCC, pr.WMO.NNNXXX,
		pr.Seqno, pr.Size, ccb, from, to, pr.Priority, sendDelta, ackDelta)
}

// maybeStatus writes the "every 100 products" STATUS line.
func (p *Log) maybeStatus() {
	p.count++
	if p.count%100 == 0 {
		p.out.Printf("STATUS count(%d)", p.count)
	}
}

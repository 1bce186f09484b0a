package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/noaa-ldm/prodxfer/internal/metrics"
	"github.com/noaa-ldm/prodxfer/internal/outputstore"
	"github.com/noaa-ldm/prodxfer/internal/plog"
	"github.com/noaa-ldm/prodxfer/internal/product"
	"github.com/noaa-ldm/prodxfer/internal/wire"
	"github.com/noaa-ldm/prodxfer/internal/wmo"
)

// readTimeout bounds every individual socket read/write, the deadline-
// based replacement for the original's alarm()-driven per-operation
// timeout (design note 9).
const readTimeout = 60 * time.Second

// ErrProtocol marks a fatal protocol violation: bad header, seqno out of
// sequence, or a body that cannot be read in full. Any ErrProtocol that
// reaches serve's loop aborts the connection, per spec.md §4.8's
// "Termination" paragraph. parseConnMessage also wraps its errors in
// ErrProtocol, but receiveProduct answers those with an F ack and the
// connection stays open.
var ErrProtocol = errors.New("server: protocol violation")

// connRecord holds what the connection message (§4.9) told us about the
// peer. parseConnMessage stores it on the worker and nothing reads it
// afterwards: it does not appear in the logs or in any file name, and it
// has no effect on protocol flow.
type connRecord struct {
	Source string
	Remote string
	Link   int
}

// worker runs the receive loop for one accepted connection.
type worker struct {
	conn net.Conn
	cfg  Config

	lastSeqno   int // -1 means "no product received yet on this connection"
	connInfo    connRecord
	lastHeading wmo.Heading
	sessionID   string
}

// productFromHeader builds the minimal product.Product view the output
// store needs to compute a path: seqno and the parsed WMO heading.
func productFromHeader(hdr wire.MessageHeader, heading wmo.Heading) *product.Product {
	return &product.Product{Seqno: hdr.Seqno, QueueTime: hdr.QueueTime, WMO: heading}
}

func newWorker(conn net.Conn, cfg Config) *worker {
	return &worker{conn: conn, cfg: cfg, lastSeqno: -1, sessionID: xid.New().String()}
}

// serve runs spec.md §4.8's receive loop until a fatal error, EOF, or ctx
// cancellation.
func (w *worker) serve(ctx context.Context) error {
	defer w.conn.Close()

	if w.cfg.ProductLog != nil {
		w.cfg.ProductLog.Connect(w.conn.RemoteAddr().String(), w.sessionID)
	}

	bufSize := w.cfg.BufSize
	if bufSize <= 0 {
		bufSize = 32 * 1024
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		hdr, err := w.readHeader()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}

		if err := w.validateSeqno(hdr.Seqno); err != nil {
			return err
		}

		outcome, err := w.receiveProduct(hdr, bufSize)
		if err != nil {
			return err
		}
		if err := w.sendAck(hdr.Seqno, outcome); err != nil {
			return fmt.Errorf("server: write ack: %w", err)
		}
		metrics.ProductsReceived.WithLabelValues(outcomeLabel(outcome)).Inc()
		w.logOutcome(hdr, outcome)
		w.lastSeqno = hdr.Seqno
	}
}

func (w *worker) readHeader() (wire.MessageHeader, error) {
	w.conn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, wire.MsgHdrLen+wire.ProdHdrLen)
	if _, err := io.ReadFull(w.conn, buf); err != nil {
		return wire.MessageHeader{}, err
	}
	return wire.ParseMessageHeader(buf)
}

// validateSeqno enforces spec.md §4.8 step 1: the seqno must equal
// last+1, or be 0 (a client reconnect reset).
func (w *worker) validateSeqno(seqno int) error {
	if seqno == 0 {
		return nil
	}
	want := (w.lastSeqno + 1) % (wire.MaxProdSeqno + 1)
	if seqno != want {
		return fmt.Errorf("%w: seqno %d, want %d or 0", ErrProtocol, seqno, want)
	}
	return nil
}

// receiveProduct reads the body, branching to the connection-message
// handler on a matching first product, otherwise streaming to the output
// store with the open-with-recovery ladder of spec.md §4.8 step 4.
func (w *worker) receiveProduct(hdr wire.MessageHeader, bufSize int) (outputstore.Outcome, error) {
	first := 1024
	if hdr.Size < first {
		first = hdr.Size
	}
	w.conn.SetReadDeadline(time.Now().Add(readTimeout))
	firstBlock := make([]byte, first)
	if _, err := io.ReadFull(w.conn, firstBlock); err != nil {
		return outputstore.OutcomeFail, fmt.Errorf("%w: reading first block: %v", ErrProtocol, err)
	}
	metrics.BytesTransferred.WithLabelValues("rx").Add(float64(wire.MsgHdrLen + wire.ProdHdrLen + len(firstBlock)))

	heading, headingErr := wmo.Parse(firstBlock)

	if hdr.Seqno == 0 && w.cfg.ConnMessageHeading != "" &&
		headingErr == nil && heading.TTAAII == w.cfg.ConnMessageHeading {
		rest := hdr.Size - first
		if rest > 0 {
			w.conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, err := io.CopyN(io.Discard, w.conn, int64(rest)); err != nil {
				return outputstore.OutcomeFail, fmt.Errorf("%w: draining connection message: %v", ErrProtocol, err)
			}
		}
		if err := w.parseConnMessage(firstBlock); err != nil {
			return outputstore.OutcomeFail, nil
		}
		return outputstore.OutcomeOK, nil
	}

	w.lastHeading = heading
	path, err := w.cfg.Store.BuildPath(productFromHeader(hdr, heading))
	if err != nil {
		return outputstore.OutcomeFail, nil
	}

	f, err := outputstore.OpenWithRecovery(path, w.cfg.Overwrite, nil)
	if err != nil {
		return outputstore.OutcomeRetry, nil
	}

	if _, err := f.Write(firstBlock); err != nil {
		f.Close()
		os.Remove(path)
		return outputstore.OutcomeRetry, nil
	}
	if rest := hdr.Size - first; rest > 0 {
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err := outputstore.StreamBody(f, w.conn, int64(rest), bufSize); err != nil {
			f.Close()
			os.Remove(path)
			// Keep reading isn't possible here (the stream is now
			// desynchronized by a partial/failed body), so this is
			// escalated to a fatal protocol error rather than a retry,
			// matching spec.md §4.8 step 5's "continue reading the
			// socket to stay in sync" only where the data IS still in
			// sync — here the remote end has seen a write failure mid-
			// body, which it cannot do without this side also losing
			// sync.
			return outputstore.OutcomeRetry, fmt.Errorf("%w: body write: %v", ErrProtocol, err)
		}
		metrics.BytesTransferred.WithLabelValues("rx").Add(float64(rest))
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return outputstore.OutcomeRetry, nil
	}

	outcome, err := w.cfg.Store.Finalize(productFromHeader(hdr, heading), path)
	if err != nil {
		w.cfg.Store.Abort(productFromHeader(hdr, heading), path)
	}
	return outcome, nil
}

// logOutcome writes the product-log END/ABORT line for a just-finished
// product, per spec.md §6. The server writes no RETRY lines — only the
// sender tracks a retry count; a retry outcome is logged here as
// ABORT(ERRS).
func (w *worker) logOutcome(hdr wire.MessageHeader, outcome outputstore.Outcome) {
	if w.cfg.ProductLog == nil {
		return
	}
	pr := productFromHeader(hdr, w.lastHeading)
	pr.SendTime = hdr.QueueTime
	remote := w.conn.RemoteAddr().String()
	now := time.Now()
	switch outcome {
	case outputstore.OutcomeOK:
		w.cfg.ProductLog.End(pr, now, remote, w.cfg.SourceTag)
	case outputstore.OutcomeFail:
		w.cfg.ProductLog.Abort(pr, now, remote, w.cfg.SourceTag, plog.AbortNack, "")
	case outputstore.OutcomeRetry:
		w.cfg.ProductLog.Abort(pr, now, remote, w.cfg.SourceTag, plog.AbortErrors, "")
	}
}

func outcomeLabel(o outputstore.Outcome) string {
	switch o {
	case outputstore.OutcomeRetry:
		return "retry"
	case outputstore.OutcomeFail:
		return "fail"
	default:
		return "ok"
	}
}

func (w *worker) sendAck(seqno int, outcome outputstore.Outcome) error {
	code := wire.AckOK
	switch outcome {
	case outputstore.OutcomeRetry:
		code = wire.AckRetry
	case outputstore.OutcomeFail:
		code = wire.AckFail
	}
	ack, err := wire.FormatAck(seqno, code)
	if err != nil {
		return err
	}
	w.conn.SetWriteDeadline(time.Now().Add(readTimeout))
	_, err = w.conn.Write(ack)
	return err
}

// connMsgStart is the literal marker line that ends the WMO-heading/
// hhmmss preamble and begins the SOURCE/LINK/REMOTE token lines, per
// spec.md §4.9 and original_source/serv_recv.c's CONN_MSG_START.
const connMsgStart = "CONNECTION MESSAGE"

// parseConnMessage extracts SOURCE/REMOTE/LINK from the connection
// message body, per spec.md §4.9's grammar and
// original_source/serv_recv.c's parse_conn_msg: skip lines up to and
// including the literal "CONNECTION MESSAGE" marker (the WMO heading and
// hhmmss lines before it aren't tokenized), then whitespace/CR/LF/tab
// delimited tokens follow, an unrecognized token is a parse failure.
func (w *worker) parseConnMessage(body []byte) error {
	markerAt := bytes.Index(body, []byte(connMsgStart))
	if markerAt < 0 {
		return fmt.Errorf("%w: missing %q marker in connection message", ErrProtocol, connMsgStart)
	}
	rest := body[markerAt+len(connMsgStart):]

	scanner := bufio.NewScanner(bytes.NewReader(rest))
	scanner.Split(bufio.ScanWords)
	rec := connRecord{}
	for scanner.Scan() {
		tok := scanner.Text()
		switch tok {
		case "SOURCE":
			if !scanner.Scan() {
				return fmt.Errorf("%w: SOURCE with no value", ErrProtocol)
			}
			rec.Source = scanner.Text()
		case "REMOTE":
			if !scanner.Scan() {
				return fmt.Errorf("%w: REMOTE with no value", ErrProtocol)
			}
			rec.Remote = scanner.Text()
		case "LINK":
			if !scanner.Scan() {
				return fmt.Errorf("%w: LINK with no value", ErrProtocol)
			}
			n, err := strconv.Atoi(scanner.Text())
			if err != nil {
				return fmt.Errorf("%w: bad LINK value: %v", ErrProtocol, err)
			}
			rec.Link = n
		default:
			if strings.TrimSpace(tok) == "" {
				continue
			}
			return fmt.Errorf("%w: unknown connection-message token %q", ErrProtocol, tok)
		}
	}
	w.connInfo = rec
	return nil
}

// Package server implements the receiving side of the product-transfer
// protocol: a dispatcher that accepts connections up to a worker-count
// ceiling, and a per-connection worker that runs the receive loop of
// spec.md §4.8. Grounded on eventsocket.server's Listen/Serve/addClient/
// removeClient shape, with the original's fork-per-connection replaced
// by one supervised goroutine per connection behind a mutex-guarded
// connection map, per design note 9.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/noaa-ldm/prodxfer/internal/metrics"
	"github.com/noaa-ldm/prodxfer/internal/outputstore"
	"github.com/noaa-ldm/prodxfer/internal/plog"
)

// Config bundles the dispatcher and worker tunables of spec.md §4.7/§4.8.
type Config struct {
	// MaxWorkers caps concurrent connections; 0 means every accepted
	// connection is served inline on the accept goroutine, matching
	// spec.md §4.7's "if max_worker == 0, handle inline".
	MaxWorkers int

	BufSize            int
	ConnMessageHeading string // TTAAII that marks a connection message
	Overwrite          bool
	Store              outputstore.Store
	Logger             *log.Logger

	// ProductLog, when non-nil, receives one END/ABORT line per received
	// product, per spec.md §6.
	ProductLog *plog.Log
	SourceTag  string // this host's tag, the "to" of a product-log line
}

// Dispatcher accepts connections on a listener and hands each to a
// worker, respecting the MaxWorkers ceiling.
type Dispatcher struct {
	cfg Config
	ln  net.Listener

	mu      sync.Mutex
	workers map[net.Conn]*worker
	wg      sync.WaitGroup
}

// NewDispatcher prepares a dispatcher; call Listen before Serve.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Dispatcher{cfg: cfg, workers: make(map[net.Conn]*worker)}
}

// Listen opens the listening socket. Per spec.md §4.7's "listening"
// state.
func (d *Dispatcher) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	d.ln = ln
	return nil
}

// Addr returns the listener's bound address, useful when addr was
// "host:0" and the OS picked a port.
func (d *Dispatcher) Addr() net.Addr {
	return d.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, matching spec.md §4.7's accept loop. At-capacity handling
// (spec.md's "verify pids; if still full, sleep 30s") becomes: simply
// don't accept past MaxWorkers — the listener's backlog absorbs the
// pressure, which is the idiomatic Go equivalent of "hold off accepting."
// While at capacity the loop re-checks the worker count once a second.
func (d *Dispatcher) Serve(ctx context.Context) error {
	const capacityPoll = time.Second

	go func() {
		<-ctx.Done()
		d.ln.Close()
	}()

	for {
		if d.cfg.MaxWorkers > 0 && d.activeCount() >= d.cfg.MaxWorkers {
			select {
			case <-ctx.Done():
				d.wg.Wait()
				return nil
			case <-time.After(capacityPoll):
			}
			continue
		}

		conn, err := d.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				d.wg.Wait()
				return nil
			}
			d.cfg.Logger.Printf("server: accept: %v", err)
			continue
		}

		w := newWorker(conn, d.cfg)
		d.addWorker(conn, w)

		if d.cfg.MaxWorkers == 0 {
			d.runWorker(ctx, conn, w)
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runWorker(ctx, conn, w)
		}()
	}
}

// runWorker serves one connection to completion, with a recover() at the
// crash boundary so one misbehaving connection never takes down its
// siblings, per spec.md §5's "no shared in-process mutable structures
// across workers" (the connection map is the one shared structure, and
// it is mutex-guarded).
func (d *Dispatcher) runWorker(ctx context.Context, conn net.Conn, w *worker) {
	defer func() {
		if r := recover(); r != nil {
			d.cfg.Logger.Printf("server: worker for %s exited on panic: %v", conn.RemoteAddr(), r)
		}
		d.removeWorker(conn)
	}()
	if err := w.serve(ctx); err != nil {
		d.cfg.Logger.Printf("server: worker for %s: %v", conn.RemoteAddr(), err)
	}
}

func (d *Dispatcher) addWorker(conn net.Conn, w *worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workers[conn] = w
	metrics.WorkerCountGauge.Set(float64(len(d.workers)))
}

func (d *Dispatcher) removeWorker(conn net.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.workers, conn)
	metrics.WorkerCountGauge.Set(float64(len(d.workers)))
}

func (d *Dispatcher) activeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Shutdown closes the listener and every open connection, then waits for
// every worker goroutine to exit — the Go equivalent of "SIGTERM all
// workers" plus reaping them via waitpid, per spec.md §4.7's "shutdown"
// state.
func (d *Dispatcher) Shutdown() {
	d.ln.Close()
	d.mu.Lock()
	for conn := range d.workers {
		conn.Close()
	}
	d.mu.Unlock()
	d.wg.Wait()
}

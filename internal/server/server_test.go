package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/noaa-ldm/prodxfer/internal/outputstore"
	"github.com/noaa-ldm/prodxfer/internal/wire"
)

func TestDispatcherReceivesOneProductAndAcks(t *testing.T) {
	outDir := t.TempDir()
	store := &outputstore.DefaultStore{OutDir: outDir, WorkerTag: 1}

	d := NewDispatcher(Config{Store: store, BufSize: 4096})
	if err := d.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Serve(ctx)

	conn, err := net.Dial("tcp", d.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	body := []byte("SAUS43 KOUN 301200\r\r\nhello world")
	hdr, err := wire.FormatMessageHeader(len(body), 0, time.Now().Unix())
	if err != nil {
		t.Fatal(err)
	}
	conn.Write(hdr)
	conn.Write(body)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	ackBuf := make([]byte, wire.AckLen)
	if _, err := readAllFull(conn, ackBuf); err != nil {
		t.Fatal(err)
	}
	seqno, code, err := wire.ParseAck(ackBuf)
	if err != nil {
		t.Fatal(err)
	}
	if seqno != 0 || code != wire.AckOK {
		t.Fatalf("got seqno=%d code=%c, want 0/K", seqno, code)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d output files, want 1", len(entries))
	}
	got, err := os.ReadFile(filepath.Join(outDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(body) {
		t.Errorf("got body %q, want %q", got, body)
	}
}

func TestDispatcherRejectsOutOfSequenceSeqno(t *testing.T) {
	outDir := t.TempDir()
	store := &outputstore.DefaultStore{OutDir: outDir, WorkerTag: 1}

	d := NewDispatcher(Config{Store: store})
	if err := d.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Serve(ctx)

	conn, err := net.Dial("tcp", d.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	body := []byte("not a heading, doesn't matter")
	hdr, err := wire.FormatMessageHeader(len(body), 5, time.Now().Unix())
	if err != nil {
		t.Fatal(err)
	}
	conn.Write(hdr)
	conn.Write(body)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	if err == nil {
		t.Fatal("expected connection to be aborted on out-of-sequence seqno, not acked")
	}
}

func readAllFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

package wireconn

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestWrapTracksBytes(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	wc := Wrap(client)
	defer wc.Close()

	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, server)
		close(done)
	}()

	if _, err := wc.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if wc.TxBytes != 5 {
		t.Errorf("got TxBytes=%d, want 5", wc.TxBytes)
	}

	wc.Close()
	<-done
	if wc.ClosedAt.Before(wc.OpenedAt) {
		t.Error("ClosedAt should not precede OpenedAt")
	}
}

func TestDeadlineZeroClearsTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	wc := Wrap(client)

	if err := wc.Deadline(50 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := wc.Deadline(0); err != nil {
		t.Fatal(err)
	}
}

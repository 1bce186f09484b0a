package queue

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/noaa-ldm/prodxfer/internal/ptable"
)

func touch(t *testing.T, dir, name string, mtime time.Time, size int) string {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.WriteFile(full, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(full, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return full
}

func TestNextOrdersByPriorityThenMtime(t *testing.T) {
	hi := t.TempDir()
	lo := t.TempDir()
	base := time.Now().Add(-time.Hour)

	touch(t, lo, "old", base, 10)
	touch(t, hi, "newer", base.Add(time.Minute), 10)
	touch(t, lo, "newest", base.Add(2*time.Minute), 10)

	p := &Poller{Dirs: []string{hi, lo}}
	tbl := ptable.New(8)

	_, _, prod, err := p.Next(tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(prod.Filename) != "newer" {
		t.Errorf("got %s, want newer (higher priority dir first)", prod.Filename)
	}

	_, _, prod, err = p.Next(tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(prod.Filename) != "old" {
		t.Errorf("got %s, want old (earlier mtime within lo dir)", prod.Filename)
	}
}

func TestNextSkipsZeroLengthYoungFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "empty", time.Now(), 0)

	p := &Poller{Dirs: []string{dir}}
	tbl := ptable.New(4)

	remaining, _, prod, err := p.Next(tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 || prod != nil {
		t.Fatalf("got remaining=%d prod=%v, want empty queue for young zero-length file", remaining, prod)
	}
}

func TestNextServesOldZeroLengthFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "stale-empty", time.Now().Add(-time.Hour), 0)

	p := &Poller{Dirs: []string{dir}}
	tbl := ptable.New(4)

	remaining, _, prod, err := p.Next(tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if remaining == 0 || prod == nil {
		t.Fatal("expected an old zero-length file to be served so it can fail downstream")
	}
}

func TestNextSkipsUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	full := touch(t, dir, "secret", time.Now().Add(-time.Hour), 10)
	if err := os.Chmod(full, 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(full, 0o644)

	p := &Poller{Dirs: []string{dir}}
	tbl := ptable.New(4)

	remaining, _, prod, err := p.Next(tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 || prod != nil {
		t.Fatalf("got remaining=%d prod=%v, want unreadable file skipped", remaining, prod)
	}
}

func TestNextDedupesInFlight(t *testing.T) {
	dir := t.TempDir()
	full := touch(t, dir, "inflight", time.Now().Add(-time.Hour), 10)

	p := &Poller{Dirs: []string{dir}}
	tbl := ptable.New(4)

	remaining, _, prod, err := p.Next(tbl, map[string]struct{}{full: {}})
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 || prod != nil {
		t.Fatalf("got remaining=%d prod=%v, want in-flight file excluded", remaining, prod)
	}
}

func TestWaitLastFileSingleton(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "only", time.Now().Add(-time.Hour), 10)

	p := &Poller{Dirs: []string{dir}, WaitLastFile: true}
	tbl := ptable.New(4)

	remaining, _, prod, err := p.Next(tbl, nil)
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 0 || prod != nil {
		t.Fatal("a queue of one must be entirely withheld under wait_last_file")
	}
}

func TestWaitLastFileServesAllButLast(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	touch(t, dir, "a", base, 10)
	touch(t, dir, "b", base.Add(time.Minute), 10)
	touch(t, dir, "c", base.Add(2*time.Minute), 10)

	p := &Poller{Dirs: []string{dir}, WaitLastFile: true}
	tbl := ptable.New(4)

	var got []string
	for {
		_, _, prod, err := p.Next(tbl, nil)
		if err != nil {
			t.Fatal(err)
		}
		if prod == nil {
			break
		}
		got = append(got, filepath.Base(prod.Filename))
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b] (c withheld as the last-arrived entry)", got)
	}
}

func TestRefreshIntervalRescansExhaustedSnapshot(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a", time.Now().Add(-time.Hour), 10)

	now := time.Now()
	p := &Poller{
		Dirs:            []string{dir},
		RefreshInterval: time.Hour,
		Now:             func() time.Time { return now },
	}
	tbl := ptable.New(4)

	if _, _, prod, err := p.Next(tbl, nil); err != nil || prod == nil {
		t.Fatalf("first Next: prod=%v err=%v", prod, err)
	}

	// A second file arrives before the refresh interval has elapsed. The
	// snapshot is already exhausted (pos==len), so the next call rescans
	// anyway and picks it up.
	touch(t, dir, "b", time.Now().Add(-time.Minute), 10)
	if _, _, prod, err := p.Next(tbl, nil); err != nil || prod == nil {
		t.Fatalf("second Next after exhausting snapshot: prod=%v err=%v", prod, err)
	}
}

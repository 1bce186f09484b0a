package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTTL(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"0", 0},
		{"30", 30 * time.Second},
		{"45s", 45 * time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := ParseTTL(c.in)
		if err != nil {
			t.Errorf("ParseTTL(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseTTL(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseTTLRejectsGarbage(t *testing.T) {
	if _, err := ParseTTL("banana"); err == nil {
		t.Fatal("expected an error for a non-numeric ttl")
	}
}

func TestParseClientFlagsIniOverlayYieldsToCLI(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "prodxfer.ini")
	if err := os.WriteFile(iniPath, []byte("p = 5555\nw = 16\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	c := NewClientFlagSet(fs)
	args := []string{"-config", iniPath, "-w", "4"}
	if err := ParseClientFlags(fs, c, args); err != nil {
		t.Fatal(err)
	}

	if c.Port != 5555 {
		t.Errorf("port = %d, want 5555 from ini overlay", c.Port)
	}
	if c.AckWindow != 4 {
		t.Errorf("ack window = %d, want 4 from explicit CLI flag overriding ini", c.AckWindow)
	}
}

func TestClientFlagsHostPortsNullIsLoopbackDiscard(t *testing.T) {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	c := NewClientFlagSet(fs)
	if err := ParseClientFlags(fs, c, []string{"-n", "null", "-n", "ldm.example.org", "-p", "1201"}); err != nil {
		t.Fatal(err)
	}
	got := c.HostPorts()
	want := []string{"127.0.0.1:9", "ldm.example.org:1201"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("HostPorts()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseServerFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	s := NewServerFlagSet(fs)
	if err := ParseServerFlags(fs, s, nil); err != nil {
		t.Fatal(err)
	}
	if s.Addr() != ":1201" {
		t.Errorf("Addr() = %q, want :1201", s.Addr())
	}
	if s.MaxWorkers != 0 {
		t.Errorf("MaxWorkers = %d, want 0 (inline) default", s.MaxWorkers)
	}
}

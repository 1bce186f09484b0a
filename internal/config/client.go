package config

import (
	"flag"
	"fmt"
	"time"
)

// ClientFlags holds every spec.md §6 client CLI flag before it is resolved
// into a client.Config (internal/client doesn't import internal/config, to
// avoid a cycle with internal/queue/internal/disposition — cmd/prodxfer-
// client does the wiring instead).
type ClientFlags struct {
	Port           int
	Hosts          repeatedFlag
	SocketTimeout  time.Duration
	PollInterval   time.Duration
	TTL            string
	AckWindow      int
	MaxRetry       int
	BufSize        int
	ConnWMO        string
	SourceID       string
	DebugForeground bool
	Verbosity      int
	ArchiveLogs    bool
	StripCCB       bool
	InDirs         repeatedFlag
	WaitLastFile   bool
	RefreshInterval time.Duration
	MaxQueueLen    int
	SentDir        string
	SentCount      int
	FailDir        string
	FailCount      int
	LogDir         string

	ConfigFile string
	PromAddr   string
}

// NewClientFlagSet registers every spec.md §6 client flag onto fs and
// returns the struct its values land in once fs.Parse has run.
func NewClientFlagSet(fs *flag.FlagSet) *ClientFlags {
	c := &ClientFlags{}
	fs.IntVar(&c.Port, "p", 1201, "server port")
	fs.Var(&c.Hosts, "n", "server host, repeatable; \"null\" selects loopback at port 9")
	fs.DurationVar(&c.SocketTimeout, "t", 60*time.Second, "socket timeout")
	fs.DurationVar(&c.PollInterval, "i", time.Second, "spool poll interval")
	fs.StringVar(&c.TTL, "l", "0", "product ttl, e.g. 30s, 5m, 2h, 1d; 0 disables")
	fs.IntVar(&c.AckWindow, "w", 8, "ack window (product table size)")
	fs.IntVar(&c.MaxRetry, "r", -1, "max retries per product, -1 = infinite")
	fs.IntVar(&c.BufSize, "b", 32*1024, "socket buffer size (no effect: the client writes each product in one call)")
	fs.StringVar(&c.ConnWMO, "c", "", "connection-message wmo heading ttaaii")
	fs.StringVar(&c.SourceID, "s", "", "source identifier announced in the connection message")
	fs.BoolVar(&c.DebugForeground, "d", false, "debug mode (no effect: the process always runs in the foreground)")
	fs.IntVar(&c.Verbosity, "v", 0, "log verbosity (no effect)")
	fs.BoolVar(&c.ArchiveLogs, "a", false, "archive rotated product logs")
	fs.BoolVar(&c.StripCCB, "x", true, "strip leading CCB prefix before framing (no effect: a detected CCB prefix is always stripped)")
	fs.Var(&c.InDirs, "D", "input spool directory, repeatable, priority-ordered")
	fs.BoolVar(&c.WaitLastFile, "L", false, "withhold the most recent file in a snapshot")
	fs.DurationVar(&c.RefreshInterval, "I", 0, "queue snapshot refresh interval")
	fs.IntVar(&c.MaxQueueLen, "Q", 0, "max queue length per scan, 0 = unbounded")
	fs.StringVar(&c.SentDir, "S", "sent", "sent disposition directory")
	fs.IntVar(&c.SentCount, "N", 1000, "sent directory ring size")
	fs.StringVar(&c.FailDir, "F", "fail", "fail disposition directory")
	fs.IntVar(&c.FailCount, "Y", 1000, "fail directory ring size")
	fs.StringVar(&c.LogDir, "P", "", "product log directory")

	fs.StringVar(&c.ConfigFile, "config", "", "optional ini file overriding flag defaults")
	fs.StringVar(&c.PromAddr, "prom", ":9090", "prometheus metrics export address")
	return c
}

// ParseClientFlags parses argv into fs/c, applying an ini overlay (if
// -config is given among args) between flag defaults and the explicit
// command line, per spec.md §6.
func ParseClientFlags(fs *flag.FlagSet, c *ClientFlags, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	overlay, err := iniOverlay(c.ConfigFile)
	if err != nil {
		return err
	}
	return applyOverlay(fs, overlay, args)
}

// TTLDuration resolves the -l flag's ttl[smhd] grammar.
func (c *ClientFlags) TTLDuration() (time.Duration, error) {
	return ParseTTL(c.TTL)
}

// HostPorts renders each -n host into "host:port", substituting the
// loopback discard-port convention for the literal host "null" per
// spec.md §6.
func (c *ClientFlags) HostPorts() []string {
	var out []string
	for _, h := range c.Hosts {
		if h == "null" {
			out = append(out, "127.0.0.1:9")
			continue
		}
		out = append(out, fmt.Sprintf("%s:%d", h, c.Port))
	}
	return out
}

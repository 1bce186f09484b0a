package config

import (
	"flag"
	"strconv"
)

// ServerFlags holds every spec.md §6 server CLI flag.
type ServerFlags struct {
	Port            int
	MaxWorkers      int
	SocketTimeout   int // seconds
	BufSize         int
	ConnWMO         string
	OutDir          string
	Overwrite       bool
	TogglePerms     bool
	DebugForeground bool
	LogDir          string
	Verbosity       int
	ArchiveLogs     bool
	SourceTag       string

	ConfigFile string
	PromAddr   string
}

// NewServerFlagSet registers every spec.md §6 server flag onto fs.
func NewServerFlagSet(fs *flag.FlagSet) *ServerFlags {
	s := &ServerFlags{}
	fs.IntVar(&s.Port, "p", 1201, "listen port")
	fs.IntVar(&s.MaxWorkers, "w", 0, "max concurrent workers, 0 = handle inline")
	fs.IntVar(&s.SocketTimeout, "t", 60, "socket timeout, seconds (no effect: workers use a fixed 60-second timeout)")
	fs.IntVar(&s.BufSize, "b", 32*1024, "socket buffer size")
	fs.StringVar(&s.ConnWMO, "c", "", "connection-message wmo heading ttaaii")
	fs.StringVar(&s.OutDir, "D", "output", "output spool directory")
	fs.BoolVar(&s.Overwrite, "O", false, "overwrite an existing output file of the same name")
	fs.BoolVar(&s.TogglePerms, "P", false, "toggle world-readable permissions on finalized files")
	fs.BoolVar(&s.DebugForeground, "d", false, "debug mode (no effect: the process always runs in the foreground)")
	fs.StringVar(&s.LogDir, "l", "", "product log directory")
	fs.IntVar(&s.Verbosity, "v", 0, "log verbosity (no effect)")
	fs.BoolVar(&s.ArchiveLogs, "a", false, "archive rotated product logs (no effect: the server does not rotate its product log)")
	fs.StringVar(&s.SourceTag, "s", "", "source tag recorded in the product log")

	fs.StringVar(&s.ConfigFile, "config", "", "optional ini file overriding flag defaults")
	fs.StringVar(&s.PromAddr, "prom", ":9090", "prometheus metrics export address")
	return s
}

// ParseServerFlags mirrors ParseClientFlags for the server binary.
func ParseServerFlags(fs *flag.FlagSet, s *ServerFlags, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	overlay, err := iniOverlay(s.ConfigFile)
	if err != nil {
		return err
	}
	return applyOverlay(fs, overlay, args)
}

// Addr renders "host:port" for net.Listen, binding every interface.
func (s *ServerFlags) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

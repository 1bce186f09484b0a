// Package config builds the client and server Config values from command
// line flags, an optional ini file (-config), and environment variables,
// per spec.md §6's CLI surfaces. Grounded on the teacher's root main.go
// flag block (github.com/m-lab/go/flagx.ArgsFromEnv, github.com/m-lab/go/rtx)
// for the flag/env layer, and samsamfire-gocanopen's gopkg.in/ini.v1 use
// for the ini layer — the same library already wired into
// internal/outputstore's route table.
package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// ParseTTL parses spec.md §6's "-l ttl[smhd]" suffix grammar: a bare integer is
// seconds; a trailing s/m/h/d multiplies into the matching unit.
func ParseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	unit := time.Second
	numPart := s
	switch s[len(s)-1] {
	case 's':
		numPart = s[:len(s)-1]
	case 'm':
		unit = time.Minute
		numPart = s[:len(s)-1]
	case 'h':
		unit = time.Hour
		numPart = s[:len(s)-1]
	case 'd':
		unit = 24 * time.Hour
		numPart = s[:len(s)-1]
	}
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0, fmt.Errorf("config: bad ttl %q: %w", s, err)
	}
	return time.Duration(n) * unit, nil
}

// repeatedFlag accumulates every occurrence of a flag given multiple times
// on the command line, e.g. repeated "-D dir1 -D dir2". flag.FlagSet has no
// built-in support for this; github.com/m-lab/go/flagx.StringArray does,
// but its value type isn't exported in a way that composes with ini
// defaults here, so the accumulation is reproduced directly.
type repeatedFlag []string

func (r *repeatedFlag) String() string {
	if r == nil {
		return ""
	}
	return strings.Join(*r, ",")
}

func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

// iniOverlay loads "-config file.ini" (if given) into a map of key/value
// pairs, which applyOverlay applies after flag.Parse to every flag not
// given on the command line. ini.v1 groups keys under sections; this
// flattens every section into one namespace (a key in a later section
// replaces the same key from an earlier one), matching a flat CLI flag
// namespace.
func iniOverlay(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load ini %q: %w", path, err)
	}
	out := make(map[string]string)
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			out[key.Name()] = key.Value()
		}
	}
	return out, nil
}

// applyOverlay re-sets the named flags from the overlay map for any flag
// whose value wasn't already given on the command line, letting CLI flags
// win over the ini file, and the ini file win over flag.FlagSet defaults.
func applyOverlay(fs *flag.FlagSet, overlay map[string]string, args []string) error {
	if overlay == nil {
		return nil
	}
	given := make(map[string]bool)
	for _, a := range args {
		a = strings.TrimLeft(a, "-")
		if i := strings.IndexByte(a, '='); i >= 0 {
			a = a[:i]
		}
		given[a] = true
	}
	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || given[f.Name] {
			return
		}
		if v, ok := overlay[f.Name]; ok {
			if setErr := fs.Set(f.Name, v); setErr != nil {
				err = fmt.Errorf("config: ini key %q: %w", f.Name, setErr)
			}
		}
	})
	return err
}

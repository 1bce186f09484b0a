// Package pidfile writes and removes the pid files described by spec.md
// §6: "/var/run/<program>-<host>-<port>" (client) and
// "/var/run/<program>-<port>" (server), overridable via the PID_FILE
// environment variable, removed at normal exit. No library in the corpus
// addresses this (see DESIGN.md's standard-library-only justification);
// it is plain os file I/O.
package pidfile

import (
	"fmt"
	"os"
)

// ClientPath renders the default client pid file path.
func ClientPath(program, host string, port int) string {
	return fmt.Sprintf("/var/run/%s-%s-%d", program, host, port)
}

// ServerPath renders the default server pid file path.
func ServerPath(program string, port int) string {
	return fmt.Sprintf("/var/run/%s-%d", program, port)
}

// Resolve returns the PID_FILE environment variable's value if set,
// otherwise defaultPath.
func Resolve(defaultPath string) string {
	if v := os.Getenv("PID_FILE"); v != "" {
		return v
	}
	return defaultPath
}

// File represents a written pid file; call Remove at normal exit.
type File struct {
	path string
}

// Write creates path containing the current process's pid, truncating
// any pre-existing file at that path.
func Write(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pidfile: create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return nil, fmt.Errorf("pidfile: write %s: %w", path, err)
	}
	return &File{path: path}, nil
}

// Remove deletes the pid file. It is not an error if the file is already
// gone.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidfile: remove %s: %w", f.path, err)
	}
	return nil
}

package client

import (
	"fmt"
	"time"
)

// ConnMessageConfig describes the connection-announcement product a fresh
// connection sends as seqno 0, per spec.md §4.9. Its absence (nil) disables
// the feature entirely.
type ConnMessageConfig struct {
	// Heading is the full WMO heading line the server's TTAAII match is
	// configured against, e.g. "NXUS71 KWNH 301200".
	Heading string
	Source  string
	Link    int
	Remote  string
}

// Build renders the connection-message body, per spec.md §4.9's grammar:
// a WMO heading line, an hhmmss line, a literal "CONNECTION MESSAGE" line,
// then the SOURCE/LINK/REMOTE token lines.
func (c *ConnMessageConfig) Build(now time.Time) []byte {
	return []byte(fmt.Sprintf(
		"%s\r\r\n%s\r\r\nCONNECTION MESSAGE\r\r\nSOURCE %s\r\r\nLINK %d\r\r\nREMOTE %s\r\r\n",
		c.Heading, now.UTC().Format("150405"), c.Source, c.Link, c.Remote,
	))
}

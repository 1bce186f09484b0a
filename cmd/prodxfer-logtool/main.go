// Command prodxfer-logtool reads a product log file and emits one CSV row
// per END/ABORT/RETRY line, supplementing the original's log.c reporting
// behavior. Grounded on cmd/csvtool/main.go: a single-purpose converter
// using github.com/gocarina/gocsv to marshal a parsed-record slice, with
// the same openFile/logFatal testable-seam shape.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strconv"

	"github.com/gocarina/gocsv"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

// A variable to enable mocking for testing, matching cmd/csvtool's idiom.
var logFatal = log.Fatal

// Record is one CSV row: a parsed END/ABORT/RETRY product-log line.
type Record struct {
	Timestamp string `csv:"timestamp"`
	Outcome   string `csv:"outcome"`
	Seqno     int    `csv:"seqno"`
	Bytes     int    `csv:"bytes"`
	CCBBytes  int    `csv:"ccb_bytes"`
	From      string `csv:"from"`
	To        string `csv:"to"`
	Priority  int    `csv:"priority"`
	SendDelta float64 `csv:"send_delta_s"`
	AckDelta  float64 `csv:"ack_delta_s"`
	Reason    string  `csv:"reason"`
}

// lineRe matches the plog package's line grammar, at the start of the line
// or after a log.Logger prefix such as the date and time:
//
//	<TAG> <timestamp> WMO[...] #<seqno> bytes(<size>[+<ccb>]) f(<from>,<to>) /P<priority> +<sendΔ>/<ackΔ>s
var lineRe = regexp.MustCompile(
	`(?:^|\s)(END|ABORT(?:\([^)]*\))?|RETRY(?:\[\d+\])?)\s+(\S+)\s+WMO\[[^\]]*\]\s+#(\d+)\s+bytes\((\d+)(?:\+(\d+))?\)\s+f\(([^,]*),([^)]*)\)\s+/P(\d+)\s+\+([0-9.]+)/([0-9.]+)s`,
)

// parseLine extracts one Record from a raw product-log line, or reports
// ok=false for lines that don't match (STATUS, START, EXIT, CONNECT).
func parseLine(line string) (Record, bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Record{}, false
	}
	seqno, _ := strconv.Atoi(m[3])
	size, _ := strconv.Atoi(m[4])
	ccb := 0
	if m[5] != "" {
		ccb, _ = strconv.Atoi(m[5])
	}
	priority, _ := strconv.Atoi(m[8])
	sendDelta, _ := strconv.ParseFloat(m[9], 64)
	ackDelta, _ := strconv.ParseFloat(m[10], 64)

	outcome := "END"
	reason := ""
	switch {
	case len(m[1]) >= 5 && m[1][:5] == "ABORT":
		outcome = "ABORT"
		if len(m[1]) > 6 {
			reason = m[1][6 : len(m[1])-1]
		}
	case len(m[1]) >= 5 && m[1][:5] == "RETRY":
		outcome = "RETRY"
	}

	return Record{
		Timestamp: m[2], Outcome: outcome, Seqno: seqno, Bytes: size, CCBBytes: ccb,
		From: m[6], To: m[7], Priority: priority, SendDelta: sendDelta, AckDelta: ackDelta,
		Reason: reason,
	}, true
}

// parseLog scans every line of r, collecting matched records.
func parseLog(r io.Reader) ([]*Record, error) {
	var out []*Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if rec, ok := parseLine(scanner.Text()); ok {
			out = append(out, &rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("logtool: scan: %w", err)
	}
	return out, nil
}

func toCSV(records []*Record, w io.Writer) error {
	return gocsv.Marshal(records, w)
}

func openFile(fn string) (io.ReadCloser, error) {
	return os.Open(fn)
}

func main() {
	args := os.Args[1:]
	var source io.ReadCloser
	var err error
	source = os.Stdin
	if len(args) == 1 {
		source, err = openFile(args[0])
		if err != nil {
			logFatal(fmt.Sprintf("Could not open file %q: %v", args[0], err))
			return
		}
	} else if len(args) > 1 {
		logFatal("Too many command-line arguments.")
		return
	}
	defer source.Close()

	records, err := parseLog(source)
	if err != nil {
		logFatal(err)
		return
	}
	if err := toCSV(records, os.Stdout); err != nil {
		logFatal(err)
		return
	}
}

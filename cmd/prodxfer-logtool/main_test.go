package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLineEnd(t *testing.T) {
	line := "END 2026-07-30T12:00:00Z WMO[SAUS43 KOUN RRA] #42 bytes(128+6) f(clientA,serverB) /P2 +0.500/1.250s"
	rec, ok := parseLine(line)
	if !ok {
		t.Fatal("expected a match")
	}
	if rec.Outcome != "END" || rec.Seqno != 42 || rec.Bytes != 128 || rec.CCBBytes != 6 {
		t.Errorf("got %+v", rec)
	}
	if rec.From != "clientA" || rec.To != "serverB" {
		t.Errorf("got from/to %q/%q", rec.From, rec.To)
	}
	if rec.Priority != 2 {
		t.Errorf("priority = %d, want 2", rec.Priority)
	}
}

func TestParseLineAbortWithReason(t *testing.T) {
	line := "ABORT(TTL 90 SECS) 2026-07-30T12:00:00Z WMO[SAUS43 KOUN RRA] #7 bytes(10) f(a,b) /P1 +0.000/0.000s"
	rec, ok := parseLine(line)
	if !ok {
		t.Fatal("expected a match")
	}
	if rec.Outcome != "ABORT" {
		t.Errorf("outcome = %q, want ABORT", rec.Outcome)
	}
	if rec.Reason != "TTL 90 SECS" {
		t.Errorf("reason = %q, want %q", rec.Reason, "TTL 90 SECS")
	}
}

func TestParseLineIgnoresNonProductLines(t *testing.T) {
	for _, line := range []string{
		"START pid(123) args([])",
		"EXIT code(0)",
		"CONNECT remote(1.2.3.4:1201)",
		"STATUS count(100)",
	} {
		if _, ok := parseLine(line); ok {
			t.Errorf("expected %q not to match the product-line grammar", line)
		}
	}
}

func TestParseLogAndCSV(t *testing.T) {
	log := strings.Join([]string{
		"START pid(1) args([])",
		"END 2026-07-30T12:00:00Z WMO[SAUS43 KOUN RRA] #0 bytes(10) f(a,b) /P1 +0.100/0.200s",
		"RETRY[1] 2026-07-30T12:00:01Z WMO[SAUS43 KOUN RRA] #1 bytes(20) f(a,b) /P1 +0.100/0.200s",
		"EXIT code(0)",
	}, "\n")

	records, err := parseLog(strings.NewReader(log))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	var buf bytes.Buffer
	if err := toCSV(records, &buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "seqno") {
		t.Errorf("expected a csv header, got %q", out)
	}
}

package wmo

import "testing"

func TestParseStandardHeading(t *testing.T) {
	buf := []byte("SAUS43 KOUN 301200\r\r\nBULLETIN TEXT\r\r\n")
	h, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.TTAAII != "SAUS43" {
		t.Errorf("TTAAII = %q, want SAUS43", h.TTAAII)
	}
	if h.CCCC != "KOUN" {
		t.Errorf("CCCC = %q, want KOUN", h.CCCC)
	}
	if h.DDHHMM != "301200" {
		t.Errorf("DDHHMM = %q, want 301200", h.DDHHMM)
	}
}

func TestParseWithBBBAndNNNXXX(t *testing.T) {
	buf := []byte("FTUS21 KWBC 301200 RRA\r\r\nWTNT01\r\r\nbody\r\r\n")
	h, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.BBB != "RRA" {
		t.Errorf("BBB = %q, want RRA", h.BBB)
	}
	if h.NNNXXX != "WTNT01" {
		t.Errorf("NNNXXX = %q, want WTNT01", h.NNNXXX)
	}
}

func TestParseMissingIIDigits(t *testing.T) {
	// "TTAA I " shape: one digit missing, replaced by a space before CCCC.
	buf := []byte("FPUS 2 KWBC 301200\r\r\n")
	h, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.TTAAII != "FPUS02" {
		t.Errorf("TTAAII = %q, want FPUS02", h.TTAAII)
	}
}

func TestParseNoHeadingFound(t *testing.T) {
	buf := []byte("\r\r\nnot a heading at all")
	if _, err := Parse(buf); err != ErrNoHeading {
		t.Errorf("got %v, want ErrNoHeading", err)
	}
}

func TestParseFourDigitDateTime(t *testing.T) {
	buf := []byte("SXUS70 KWNH 3012 \r\r\n")
	h, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if h.DDHHMM != "301200" {
		t.Errorf("DDHHMM = %q, want 301200", h.DDHHMM)
	}
}

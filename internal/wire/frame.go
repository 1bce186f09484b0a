package wire

import (
	"io"
)

// FrameReader reads [message-header || product-header || body] frames off
// a stream, one at a time. It is grounded on the teacher's
// loader.PMReader.Next: read a fixed-size header, then read a body whose
// length the header declares.
type FrameReader struct {
	r      io.Reader
	hdrBuf [MsgHdrLen + ProdHdrLen]byte
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadHeader reads and parses the next 32-byte preamble. It does not read
// the body; callers use MessageHeader.Size to size their own body read, exactly as
// spec.md §4.8 requires (the first block must be read in at least
// min(size, 1024) bytes so the WMO parser has context).
func (fr *FrameReader) ReadHeader() (MessageHeader, error) {
	if _, err := io.ReadFull(fr.r, fr.hdrBuf[:]); err != nil {
		return MessageHeader{}, err
	}
	return ParseMessageHeader(fr.hdrBuf[:])
}

// ReadAck reads exactly 6 bytes and parses them as an acknowledgement. A
// zero-byte read (io.EOF with no bytes consumed) is surfaced as io.EOF so
// callers can treat it as a peer disconnect per spec.md §4.4.
func ReadAck(r io.Reader) (seqno int, code AckCode, err error) {
	var buf [AckLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, 0, err
	}
	return ParseAck(buf[:])
}

const (
	ccbFlagByte    = 0
	ccbLengthByte  = 1
	ccbFlagVal     = 0x40
	ccbMinHdrLen   = 24
	ccbMaxHdrLen   = 1024
	ccbLengthUnits = 2 // length byte counts 2-byte units
)

// StripCCB detects an optional Communications Control Block prefix at the
// start of buf and returns the number of leading bytes to discard (0 if no
// CCB is present). Detection per design note: flag byte 0x40 at offset 0,
// a length at offset 1 in 2-byte units that lies within [24, 1024] and is
// no longer than buf itself. A length outside those bounds means no CCB.
func StripCCB(buf []byte) int {
	if len(buf) <= ccbLengthByte {
		return 0
	}
	if buf[ccbFlagByte] != ccbFlagVal {
		return 0
	}
	ccbLen := int(buf[ccbLengthByte]) * ccbLengthUnits
	if ccbLen < ccbMinHdrLen || ccbLen > ccbMaxHdrLen || ccbLen > len(buf) {
		return 0
	}
	return ccbLen
}

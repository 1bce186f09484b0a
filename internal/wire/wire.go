// Package wire implements the three fixed-width ASCII framings used on the
// product-transfer wire: the message header, the product header, and the
// acknowledgement. All three are textual, not binary, but are parsed the
// same way the teacher's inetdiag package parses its fixed-layout structs:
// explicit byte-range slicing, no reflection, and a validating Parse next to
// every Format.
package wire

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// MsgHdrLen is the length in bytes of the message header.
	MsgHdrLen = 10
	// ProdHdrLen is the length in bytes of the product header that
	// immediately follows the message header.
	ProdHdrLen = 22
	// AckLen is the length in bytes of an acknowledgement frame.
	AckLen = 6

	// mnemonic is the literal two-character tag that follows the size field
	// in the message header.
	mnemonic = "BI"

	// maxSizeDigits bounds the size field: it is an 8-digit decimal.
	maxSizeDigits = 99999999

	// MaxProdSeqno is the largest legal sequence number; seqnos are
	// monotonic modulo MaxProdSeqno+1.
	MaxProdSeqno = 99999

	// MaxProdSize is the largest legal product body, derived from the
	// 8-digit size-field ceiling minus the product header that the size
	// field also covers.
	MaxProdSize = maxSizeDigits - ProdHdrLen
)

// Errors returned by Format/Parse. Callers compare with errors.Is.
var (
	ErrBadSize       = errors.New("wire: size out of range")
	ErrBadSeqno      = errors.New("wire: seqno out of range")
	ErrShortHeader   = errors.New("wire: header too short")
	ErrBadMnemonic   = errors.New("wire: bad mnemonic")
	ErrBadTerminator = errors.New("wire: bad terminator")
	ErrBadSentinel   = errors.New("wire: bad sentinel byte")
	ErrBadAckLen     = errors.New("wire: ack frame must be exactly 6 bytes")
	ErrBadAckCode    = errors.New("wire: unknown ack code")
)

// AckCode is one of the three single-character server response codes.
type AckCode byte

const (
	// AckOK means the product was accepted and persisted.
	AckOK AckCode = 'K'
	// AckFail means the product was permanently rejected.
	AckFail AckCode = 'F'
	// AckRetry means the server wants the same seqno resent.
	AckRetry AckCode = 'R'
)

func (c AckCode) valid() bool {
	return c == AckOK || c == AckFail || c == AckRetry
}

// MessageHeader describes the combined message-header-plus-product-header
// preamble that precedes every product body on the wire.
type MessageHeader struct {
	// Size is the byte count of the body that follows the 32-byte
	// preamble. The size field on the wire also counts the 22-byte
	// product header; ParseMessageHeader subtracts it.
	Size int
	// Seqno is the product's sequence number, 0..MaxProdSeqno.
	Seqno int
	// QueueTime is the product's queue_time field, seconds since epoch.
	QueueTime int64
}

// FormatMessageHeader renders the 10-byte message header followed by the
// 22-byte product header: 32 bytes total. size is the number of bytes that
// follow this 32-byte preamble (the product header is NOT counted a second
// time; per spec.md §4.1 "size" is the product-header-plus-body size).
func FormatMessageHeader(size, seqno int, queueTime int64) ([]byte, error) {
	if size < 1 || size > maxSizeDigits-ProdHdrLen {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	if seqno < 0 || seqno > MaxProdSeqno {
		return nil, fmt.Errorf("%w: %d", ErrBadSeqno, seqno)
	}
	buf := make([]byte, 0, MsgHdrLen+ProdHdrLen)
	buf = append(buf, fmt.Sprintf("%.8d%.2s", size+ProdHdrLen, mnemonic)...)
	buf = append(buf, 0x01, '\r', '\r', '\n')
	buf = append(buf, fmt.Sprintf("%.5d%.10d", seqno, queueTime)...)
	buf = append(buf, '\r', '\r', '\n')
	return buf, nil
}

// ParseMessageHeader parses the leading 32 bytes of buf (message header plus
// product header) and returns the decoded fields. buf must hold at least 32
// bytes; trailing bytes are ignored. The returned Size excludes the product
// header itself, mirroring FormatMessageHeader's input convention.
func ParseMessageHeader(buf []byte) (MessageHeader, error) {
	if len(buf) < MsgHdrLen+ProdHdrLen {
		return MessageHeader{}, ErrShortHeader
	}
	sizeField := buf[:8]
	mn := buf[8:10]
	if string(mn) != mnemonic {
		return MessageHeader{}, fmt.Errorf("%w: %q", ErrBadMnemonic, mn)
	}
	var totalSize int
	if _, err := fmt.Sscanf(string(sizeField), "%8d", &totalSize); err != nil {
		return MessageHeader{}, fmt.Errorf("%w: %v", ErrBadSize, err)
	}

	prodHdr := buf[MsgHdrLen : MsgHdrLen+ProdHdrLen]
	if prodHdr[0] != 0x01 {
		return MessageHeader{}, ErrBadSentinel
	}
	if !bytes.Equal(prodHdr[1:4], []byte{'\r', '\r', '\n'}) {
		return MessageHeader{}, ErrBadTerminator
	}
	var seqno int
	if _, err := fmt.Sscanf(string(prodHdr[4:9]), "%5d", &seqno); err != nil {
		return MessageHeader{}, fmt.Errorf("%w: %v", ErrBadSeqno, err)
	}
	var queueTime int64
	if _, err := fmt.Sscanf(string(prodHdr[9:19]), "%10d", &queueTime); err != nil {
		return MessageHeader{}, fmt.Errorf("wire: bad queue_time: %v", err)
	}
	if !bytes.Equal(prodHdr[19:22], []byte{'\r', '\r', '\n'}) {
		return MessageHeader{}, ErrBadTerminator
	}

	size := totalSize - ProdHdrLen
	if size <= 0 || size > maxSizeDigits-ProdHdrLen {
		return MessageHeader{}, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	if seqno < 0 || seqno > MaxProdSeqno {
		return MessageHeader{}, fmt.Errorf("%w: %d", ErrBadSeqno, seqno)
	}

	return MessageHeader{Size: size, Seqno: seqno, QueueTime: queueTime}, nil
}

// FormatAck renders the 6-byte acknowledgement frame.
func FormatAck(seqno int, code AckCode) ([]byte, error) {
	if seqno < 0 || seqno > MaxProdSeqno {
		return nil, fmt.Errorf("%w: %d", ErrBadSeqno, seqno)
	}
	if !code.valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadAckCode, byte(code))
	}
	return []byte(fmt.Sprintf("%5d%c", seqno, byte(code))), nil
}

// ParseAck parses a 6-byte acknowledgement frame. buf must be exactly 6
// bytes.
func ParseAck(buf []byte) (seqno int, code AckCode, err error) {
	if len(buf) != AckLen {
		return 0, 0, ErrBadAckLen
	}
	if _, err := fmt.Sscanf(string(buf[:5]), "%5d", &seqno); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrBadSeqno, err)
	}
	code = AckCode(buf[5])
	if !code.valid() {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadAckCode, buf[5])
	}
	return seqno, code, nil
}

// Package rfbwire provides RFB 3.8 wire-framing helpers shared by the
// session handler's client- and upstream-facing handshakes. Byte order is
// big-endian throughout, per the RFB specification.
package rfbwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolVersion38 is the only RFB version string this proxy speaks or
// accepts, on either side of the session.
const ProtocolVersion38 = "RFB 003.008\n"

// ProtocolVersionLength is the fixed wire length of an RFB version string.
const ProtocolVersionLength = 12

// SecurityType identifies an RFB authentication scheme.
type SecurityType uint8

const (
	// SecurityTypeNone requires nothing from the client.
	SecurityTypeNone SecurityType = 1
	// SecurityTypeVNCAuth is DES challenge-response authentication.
	SecurityTypeVNCAuth SecurityType = 2
)

// Security result words sent after an authentication attempt.
const (
	SecurityResultOK     uint32 = 0
	SecurityResultFailed uint32 = 1
)

// Reader reads RFB primitives from the wire, blocking until a full value is
// available or the underlying connection errors.
type Reader struct {
	r io.Reader
}

// NewReader wraps r for RFB-framed reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadExact reads exactly n bytes, treating a short read as an error — the
// handshake has no notion of a partial, resumable message.
func (pr *Reader) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		return nil, fmt.Errorf("rfbwire: short read (wanted %d bytes): %w", n, err)
	}
	return buf, nil
}

// ReadU8 reads a single unsigned byte.
func (pr *Reader) ReadU8() (uint8, error) {
	buf, err := pr.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadU32 reads a big-endian unsigned 32-bit integer.
func (pr *Reader) ReadU32() (uint32, error) {
	buf, err := pr.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// Writer writes RFB primitives to the wire.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for RFB-framed writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes data verbatim, erroring on a short write.
func (pw *Writer) Write(data []byte) error {
	n, err := pw.w.Write(data)
	if err != nil {
		return fmt.Errorf("rfbwire: write failed: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("rfbwire: short write: wrote %d of %d bytes", n, len(data))
	}
	return nil
}

// WriteU8 writes a single unsigned byte.
func (pw *Writer) WriteU8(v uint8) error {
	return pw.Write([]byte{v})
}

// WriteU32 writes a big-endian unsigned 32-bit integer.
func (pw *Writer) WriteU32(v uint32) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return pw.Write(buf)
}

// WriteString writes s verbatim with no length prefix (used for the RFB
// version string).
func (pw *Writer) WriteString(s string) error {
	return pw.Write([]byte(s))
}

// IsVersion38 reports whether a 12-byte version announcement is exactly RFB
// 3.8. Unlike a general-purpose RFB client, this proxy rejects every other
// version rather than negotiating down.
func IsVersion38(data []byte) bool {
	return string(data) == ProtocolVersion38
}

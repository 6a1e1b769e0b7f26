package rfbwire

import (
	"bytes"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WriteString(ProtocolVersion38); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := w.WriteU8(0x2a); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	if err := w.WriteU32(0xdeadbeef); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}

	r := NewReader(&buf)
	version, err := r.ReadExact(ProtocolVersionLength)
	if err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if string(version) != ProtocolVersion38 {
		t.Fatalf("version = %q, want %q", version, ProtocolVersion38)
	}

	b, err := r.ReadU8()
	if err != nil || b != 0x2a {
		t.Fatalf("ReadU8 = %#x, %v, want 0x2a, nil", b, err)
	}

	u32, err := r.ReadU32()
	if err != nil || u32 != 0xdeadbeef {
		t.Fatalf("ReadU32 = %#x, %v, want 0xdeadbeef, nil", u32, err)
	}
}

func TestReadExactShortReadErrors(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2, 3}))
	if _, err := r.ReadExact(12); err == nil {
		t.Fatal("ReadExact of 12 bytes from a 3-byte reader should have errored")
	}
}

func TestIsVersion38(t *testing.T) {
	if !IsVersion38([]byte(ProtocolVersion38)) {
		t.Fatal("IsVersion38 rejected the canonical RFB 3.8 string")
	}
	if IsVersion38([]byte("RFB 003.007\n")) {
		t.Fatal("IsVersion38 accepted RFB 3.7")
	}
	if IsVersion38([]byte("garbage")) {
		t.Fatal("IsVersion38 accepted a malformed string")
	}
}

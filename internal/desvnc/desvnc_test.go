package desvnc

import "testing"

func TestPad8(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  [8]byte
	}{
		{
			name:  "empty",
			input: "",
			want:  [8]byte{0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name:  "shorter than 8",
			input: "ab",
			want:  [8]byte{'a', 'b', 0, 0, 0, 0, 0, 0},
		},
		{
			name:  "exactly 8",
			input: "passw0rd"[:8],
			want:  [8]byte{'p', 'a', 's', 's', 'w', '0', 'r', 'd'},
		},
		{
			name:  "longer than 8 is truncated",
			input: "abcdefghij",
			want:  [8]byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pad8([]byte(tt.input))
			if got != tt.want {
				t.Fatalf("Pad8(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestReverseBits(t *testing.T) {
	tests := []struct {
		input byte
		want  byte
	}{
		{0x00, 0x00},
		{0xFF, 0xFF},
		{0x01, 0x80},
		{0x80, 0x01},
		{0xAA, 0x55},
		{0xB2, 0x4D},
	}
	for _, tt := range tests {
		if got := reverseBits(tt.input); got != tt.want {
			t.Fatalf("reverseBits(%#02x) = %#02x, want %#02x", tt.input, got, tt.want)
		}
	}
}

func TestComputeResponseIsDeterministic(t *testing.T) {
	challenge := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	r1, err := ComputeResponse([]byte("secret"), challenge)
	if err != nil {
		t.Fatalf("ComputeResponse: %v", err)
	}
	r2, err := ComputeResponse([]byte("secret"), challenge)
	if err != nil {
		t.Fatalf("ComputeResponse: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("ComputeResponse is not deterministic: %v != %v", r1, r2)
	}
}

func TestComputeResponseDiffersByPassword(t *testing.T) {
	challenge := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

	r1, _ := ComputeResponse([]byte("secret1"), challenge)
	r2, _ := ComputeResponse([]byte("secret2"), challenge)
	if r1 == r2 {
		t.Fatalf("different passwords produced the same response")
	}
}

func TestECBEncryptMatchesComputeResponseHalves(t *testing.T) {
	challenge := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	password := []byte("7072")

	full, err := ComputeResponse(password, challenge)
	if err != nil {
		t.Fatalf("ComputeResponse: %v", err)
	}

	key := deriveKey(password)
	var b0, b1 [8]byte
	copy(b0[:], challenge[0:8])
	copy(b1[:], challenge[8:16])

	e0, err := ECBEncrypt(key, b0)
	if err != nil {
		t.Fatalf("ECBEncrypt: %v", err)
	}
	e1, err := ECBEncrypt(key, b1)
	if err != nil {
		t.Fatalf("ECBEncrypt: %v", err)
	}

	var want [16]byte
	copy(want[0:8], e0[:])
	copy(want[8:16], e1[:])

	if full != want {
		t.Fatalf("ComputeResponse halves did not match direct ECBEncrypt calls")
	}
}

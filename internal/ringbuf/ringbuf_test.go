package ringbuf

import (
	"bytes"
	"testing"
)

func TestAppendFetchRoundTrip(t *testing.T) {
	b := New()
	want := []byte("hello world")
	b.Append(want)

	if got := b.Size(); got != len(want) {
		t.Fatalf("Size() = %d, want %d", got, len(want))
	}

	got := b.Fetch(len(want))
	if !bytes.Equal(got, want) {
		t.Fatalf("Fetch() = %q, want %q", got, want)
	}
	if b.Size() != 0 {
		t.Fatalf("Size() after fetch = %d, want 0", b.Size())
	}
}

func TestPeekDoesNotModify(t *testing.T) {
	b := New()
	b.Append([]byte("abcdef"))

	out := make([]byte, 3)
	n := b.Peek(0, out)
	if n != 3 || string(out) != "abc" {
		t.Fatalf("Peek(0,3) = %q (%d), want abc", out[:n], n)
	}
	if b.Size() != 6 {
		t.Fatalf("Size() after Peek = %d, want 6", b.Size())
	}

	n = b.Peek(3, out)
	if n != 3 || string(out) != "def" {
		t.Fatalf("Peek(3,3) = %q (%d), want def", out[:n], n)
	}
}

func TestDiscardPartial(t *testing.T) {
	b := New()
	b.Append([]byte("abcdef"))

	dropped := b.Discard(2)
	if dropped != 2 {
		t.Fatalf("Discard(2) = %d, want 2", dropped)
	}
	got := b.Fetch(10)
	if string(got) != "cdef" {
		t.Fatalf("Fetch(10) after discard = %q, want cdef", got)
	}
}

func TestDiscardBeyondSizeClampsToSize(t *testing.T) {
	b := New()
	b.Append([]byte("ab"))
	if n := b.Discard(100); n != 2 {
		t.Fatalf("Discard(100) = %d, want 2", n)
	}
	if b.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", b.Size())
	}
}

func TestByteAccountingInvariant(t *testing.T) {
	b := New()
	in := 0
	out := 0

	chunks := [][]byte{
		[]byte("the quick brown fox"),
		[]byte("jumps over"),
		[]byte("the lazy dog"),
	}
	for _, c := range chunks {
		b.Append(c)
		in += len(c)

		dropped := b.Discard(3)
		out += dropped

		if b.Size() != in-out {
			t.Fatalf("size invariant broken: size=%d in=%d out=%d", b.Size(), in, out)
		}
	}
}

func TestClearResetsToMinCapacity(t *testing.T) {
	b := New()
	b.Append(bytes.Repeat([]byte{'x'}, 10000))
	b.Clear()

	if b.Size() != 0 {
		t.Fatalf("Size() after Clear = %d, want 0", b.Size())
	}
	if len(b.buf) != MinCapacity {
		t.Fatalf("capacity after Clear = %d, want %d", len(b.buf), MinCapacity)
	}
}

func TestWraparoundIsInvisible(t *testing.T) {
	b := New()
	// Force several append/discard cycles so the logical head wraps past
	// the end of the backing array without ever triggering a grow.
	for i := 0; i < 50; i++ {
		b.Append([]byte{byte(i), byte(i + 1)})
		got := b.Fetch(2)
		if got[0] != byte(i) || got[1] != byte(i+1) {
			t.Fatalf("iteration %d: got %v, want [%d %d]", i, got, i, i+1)
		}
	}
}

func TestGrowthAccommodatesLargeAppend(t *testing.T) {
	b := New()
	big := bytes.Repeat([]byte{'z'}, 1000)
	b.Append(big)
	if b.Size() != 1000 {
		t.Fatalf("Size() = %d, want 1000", b.Size())
	}
	got := b.Fetch(1000)
	if !bytes.Equal(got, big) {
		t.Fatalf("Fetch(1000) did not round-trip a large append")
	}
}

// TestShrinkAfterSustainedLowUtilization exercises the shrink
// heuristic: once capacity has grown large and then stays under 10%
// utilized for enough consecutive operations, the backing array shrinks to
// roughly the live byte count.
func TestShrinkAfterSustainedLowUtilization(t *testing.T) {
	b := New()
	b.Append(bytes.Repeat([]byte{'a'}, 2000)) // force capacity well above 16
	b.Discard(1995)                           // leave 5 bytes, well under 10% of capacity

	if len(b.buf) <= MinCapacity {
		t.Fatalf("capacity %d unexpectedly already small before shrink loop", len(b.buf))
	}

	// Keep observing low utilization until the shrink heuristic fires.
	for i := 0; i < shrinkThreshold+1; i++ {
		b.Peek(0, make([]byte, 1))
	}

	if got := len(b.buf); got > b.Size()+1 {
		t.Fatalf("capacity after shrink = %d, want <= size(%d)+1", got, b.Size())
	}
}

package bloom

import "testing"

func TestPutMightContain(t *testing.T) {
	f := New()
	f.Put(42)
	f.Put(1000)

	if !f.MightContain(42) {
		t.Fatal("expected MightContain(42) to be true after Put(42)")
	}
	if !f.MightContain(1000) {
		t.Fatal("expected MightContain(1000) to be true after Put(1000)")
	}
}

func TestMightContainAbsentKey(t *testing.T) {
	f := New()
	for _, k := range []int64{1, 2, 3, 4, 5} {
		f.Put(k)
	}

	// A key never inserted may still collide, but across many keys never
	// inserted at least one should come back false, demonstrating the
	// filter actually rejects something.
	rejectedSome := false
	for k := int64(100000); k < 100200; k++ {
		if !f.MightContain(k) {
			rejectedSome = true
			break
		}
	}
	if !rejectedSome {
		t.Fatal("expected at least one never-inserted key to be rejected")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := New()
	f.Put(7)
	f.Put(8)
	f.Put(9)

	decoded := Decode(f.Encode())
	for _, k := range []int64{7, 8, 9} {
		if !decoded.MightContain(k) {
			t.Fatalf("decoded filter lost membership of %d", k)
		}
	}
}

func TestSizeMatchesEncodedLength(t *testing.T) {
	f := New()
	if got := len(f.Encode()); got != Size() {
		t.Fatalf("Encode() length = %d, want Size() = %d", got, Size())
	}
}

package wasmsig

import "testing"

func TestSignatureEqual(t *testing.T) {
	a := Signature{Params: []ValueKind{I32, I32, I32, I32, I32}, Results: []ValueKind{I32}}
	b := Signature{Params: []ValueKind{I32, I32, I32, I32, I32}, Results: []ValueKind{I32}}
	c := Signature{Params: []ValueKind{I32, I64}, Results: []ValueKind{I32}}

	if !a.Equal(b) {
		t.Error("expected a == b")
	}
	if a.Equal(c) {
		t.Error("expected a != c")
	}
}

func TestModuleRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0x61, 0x73, 0x6d}
	var hash [32]byte
	hash[0] = 0xAA

	m := NewModule(raw, hash)
	if m.IsZero() {
		t.Fatal("module should not be zero")
	}
	if string(m.Bytes()) != string(raw) {
		t.Errorf("bytes mismatch: %v", m.Bytes())
	}
	if m.Hash() != hash {
		t.Errorf("hash mismatch: %v", m.Hash())
	}

	// Mutating the original slice must not affect the wrapped copy.
	raw[0] = 0xFF
	if m.Bytes()[0] == 0xFF {
		t.Error("module should own a private copy of the bytes")
	}
}

func TestZeroModule(t *testing.T) {
	var m Module
	if !m.IsZero() {
		t.Error("zero value should report IsZero")
	}
}

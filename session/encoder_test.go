package session

import (
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	in := &Entry{JTI: "ignored", PrincipalID: 42, Kind: "employee", ExpiresAt: 1700003600, RevokedAt: 1700000000}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.PrincipalID != 42 || out.Kind != "employee" || out.ExpiresAt != in.ExpiresAt || out.RevokedAt != in.RevokedAt {
		t.Fatalf("unexpected entry %+v", out)
	}
	if out.JTI != "" {
		t.Fatal("jti is carried by the key, not the value")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := Encode(&Entry{PrincipalID: 1, Kind: "admin"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(append(data, 0)); err == nil {
		t.Fatal("expected trailing byte to be rejected")
	}
	if _, err := Decode([]byte{9}); err == nil {
		t.Fatal("expected unknown version to be rejected")
	}
}

// FuzzEntryDecode exercises the decoder with arbitrary inputs.
// Goal: no panics, graceful error handling.
func FuzzEntryDecode(f *testing.F) {
	encoded, err := Encode(&Entry{PrincipalID: 7, Kind: "admin", ExpiresAt: 1700003600, RevokedAt: 1700000000})
	if err == nil {
		f.Add(encoded)
		f.Add(encoded[:5])
	}
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{1, 255})

	f.Fuzz(func(t *testing.T, data []byte) {
		e, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(e)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if string(again) != string(data) {
			t.Fatalf("round trip changed bytes")
		}
	})
}

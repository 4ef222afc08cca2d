package fileset

import (
	"strings"
	"testing"
)

func TestEncryptRecord_RoundTripTwoLayers(t *testing.T) {
	plain := `{"id":"abc","filename":"a.txt"}`
	payload, err := EncryptRecord(plain, "system-key", "user-key")
	if err != nil {
		t.Fatalf("EncryptRecord: %v", err)
	}
	if payload == plain {
		t.Fatal("payload not encrypted")
	}
	if !LooksEncrypted(payload) {
		t.Fatal("payload does not have the layer shape")
	}
	got, err := DecryptRecord(payload, "system-key", "user-key")
	if err != nil {
		t.Fatalf("DecryptRecord: %v", err)
	}
	if got != plain {
		t.Errorf("round trip = %q, want %q", got, plain)
	}
}

func TestEncryptRecord_SystemOnly(t *testing.T) {
	plain := "hello"
	payload, err := EncryptRecord(plain, "system-key", "")
	if err != nil {
		t.Fatalf("EncryptRecord: %v", err)
	}
	// Legacy single-layer data must stay readable even when a user key is
	// supplied at read time.
	got, err := DecryptRecord(payload, "system-key", "user-key")
	if err != nil {
		t.Fatalf("DecryptRecord: %v", err)
	}
	if got != plain {
		t.Errorf("round trip = %q, want %q", got, plain)
	}
}

func TestEncryptRecord_NoSystemKeyStoresPlaintext(t *testing.T) {
	payload, err := EncryptRecord("data", "", "user-key")
	if err != nil {
		t.Fatalf("EncryptRecord: %v", err)
	}
	if payload != "data" {
		t.Errorf("payload = %q, want plaintext", payload)
	}
}

func TestDecryptRecord_PlaintextWithColonsPassesThrough(t *testing.T) {
	for _, payload := range []string{
		"a plain note: with a colon",
		"deadbeef:cafe",                        // too-short iv
		strings.Repeat("zz", 16) + ":00112233", // non-hex iv
		strings.Repeat("ab", 16) + ":0011",     // partial block
	} {
		got, err := DecryptRecord(payload, "system-key", "")
		if err != nil {
			t.Errorf("DecryptRecord(%q): %v", payload, err)
			continue
		}
		if got != payload {
			t.Errorf("DecryptRecord(%q) = %q, want pass-through", payload, got)
		}
	}
}

func TestDecryptRecord_WrongKeyFails(t *testing.T) {
	payload, err := EncryptRecord("secret", "right-key", "")
	if err != nil {
		t.Fatalf("EncryptRecord: %v", err)
	}
	if got, err := DecryptRecord(payload, "wrong-key", ""); err == nil && got == "secret" {
		t.Error("decryption with the wrong key recovered the plaintext")
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash([]byte("content"))
	b := ContentHash([]byte("content"))
	c := ContentHash([]byte("different"))
	if a != b {
		t.Errorf("hash not deterministic: %s vs %s", a, b)
	}
	if a == c {
		t.Error("distinct content hashed identically")
	}
}

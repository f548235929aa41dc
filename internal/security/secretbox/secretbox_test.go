package secretbox

import (
	"encoding/base64"
	"testing"
)

func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New(testKey())
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	record := []byte(`{"identity":"user-1","validate_key":"abc"}`)
	sealed, err := box.Seal(record)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if string(opened) != string(record) {
		t.Fatalf("unexpected record: %s", opened)
	}
}

func TestOpenRejectsTamperedRecord(t *testing.T) {
	box, err := New(testKey())
	if err != nil {
		t.Fatalf("failed to create box: %v", err)
	}
	sealed, err := box.Seal([]byte("session"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := box.Open(sealed); err == nil {
		t.Fatal("expected tampered record to be rejected")
	}
}

func TestNewRejectsBadKeys(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := New("not-base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := New(short); err == nil {
		t.Fatal("expected error for short key")
	}
}

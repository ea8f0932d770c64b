package store

import (
	"bytes"
	"testing"
)

func TestCredentialRoundtrip(t *testing.T) {
	s := newTestStore(t)

	// Binary payload including NULs and invalid UTF-8.
	blob := []byte{0x00, 0xff, 0xfe, 0x41, 0x00, 0x9c, 0x10}
	if err := s.WriteCredential("whatsapp:noise-key", blob); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := s.ReadCredential("whatsapp:noise-key")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("roundtrip mismatch: got %x, want %x", got, blob)
	}
}

func TestCredentialUpsertAndRemove(t *testing.T) {
	s := newTestStore(t)

	if err := s.WriteCredential("whatsapp:creds", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteCredential("whatsapp:creds", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadCredential("whatsapp:creds")
	if err != nil || string(got) != "v2" {
		t.Fatalf("got %q err=%v", got, err)
	}

	if err := s.RemoveCredential("whatsapp:creds"); err != nil {
		t.Fatal(err)
	}
	got, err = s.ReadCredential("whatsapp:creds")
	if err != nil || got != nil {
		t.Fatalf("expected absent credential, got %q err=%v", got, err)
	}
}

func TestWipeCredentialsByCollection(t *testing.T) {
	s := newTestStore(t)

	_ = s.WriteCredential("whatsapp:a", []byte("1"))
	_ = s.WriteCredential("whatsapp:b", []byte("2"))
	_ = s.WriteCredential("telegram:a", []byte("3"))

	if err := s.WipeCredentials("whatsapp"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.ReadCredential("whatsapp:a"); got != nil {
		t.Fatal("whatsapp:a should be wiped")
	}
	if got, _ := s.ReadCredential("telegram:a"); string(got) != "3" {
		t.Fatalf("telegram credential should survive, got %q", got)
	}
}

package passcrypt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
)

func TestEncryptRoundTripsAgainstGeneratedKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	enc, err := NewFromPEM(string(pubPEM))
	if err != nil {
		t.Fatalf("new encrypter: %v", err)
	}
	ciphertext, err := enc.Encrypt("trading-password")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("ciphertext is not base64: %v", err)
	}
	plaintext, err := rsa.DecryptPKCS1v15(nil, priv, raw)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plaintext) != "trading-password" {
		t.Fatalf("plaintext = %q", plaintext)
	}
}

func TestNewParsesPinnedKey(t *testing.T) {
	enc, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if out == "" || out == "secret" {
		t.Fatalf("unexpected ciphertext %q", out)
	}
}

func TestNewFromPEMRejectsGarbage(t *testing.T) {
	if _, err := NewFromPEM("not a key"); err == nil {
		t.Fatal("expected error for invalid PEM")
	}
}

package passcrypt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

// portalPublicKey is the RSA key the portal's login form encrypts the
// password with. It is pinned by the portal, not configurable server-side.
const portalPublicKey = `-----BEGIN PUBLIC KEY-----
MIGfMA0GCSqGSIb3DQEBAQUAA4GNADCBiQKBgQDHdsyxT66pDG4p73yope7jxA92
c0AT4qIJ/xtbBcHkFPK77upnsfDTJiVEuQDH+MiMeb+XhCLNKZGp0yaUU6GlxZdp
+nLW8b7Kmijr3iepaDhcbVTsYBWchaWUXauj9Lrhz58/6AE/NF0aMolxIGpsi+ST
2hSHPu3GSXMdhPCkWQIDAQAB
-----END PUBLIC KEY-----`

// Encrypter obfuscates login passwords with RSA PKCS#1 v1.5 and encodes the
// result in base64, matching what the portal's own login page produces.
type Encrypter struct {
	pub *rsa.PublicKey
}

// New returns an Encrypter over the portal's pinned public key.
func New() (*Encrypter, error) {
	return NewFromPEM(portalPublicKey)
}

func NewFromPEM(pemKey string) (*Encrypter, error) {
	block, _ := pem.Decode([]byte(pemKey))
	if block == nil {
		return nil, errors.New("passcrypt: no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("passcrypt: parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("passcrypt: public key is not RSA")
	}
	return &Encrypter{pub: pub}, nil
}

func (e *Encrypter) Encrypt(plaintext string) (string, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, e.pub, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("passcrypt: encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

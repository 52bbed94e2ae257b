package giftwrap

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealContent AEAD-encrypts plaintext under the ECDH shared secret between
// ourKey and theirPubkey, base64-encoding nonce||ciphertext as the event
// content the way NIP-44 packs its payload into a single content string.
func sealContent(shared [32]byte, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.New(shared[:])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

func openContent(shared [32]byte, content string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	aead, err := chacha20poly1305.New(shared[:])
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("content too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	return plain, nil
}

package nostrid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// passphraseEnvelope is the on-disk shape of an encrypted private key: a
// random salt used to derive the AEAD key from the passphrase via HKDF,
// followed by the nonce-prefixed ciphertext. This replaces nostr_sdk's
// NIP-49 ncryptsec with a simpler envelope, since this pack has no NIP-49
// implementation to depend on; only the at-rest threat model (plaintext
// nsec never touches disk unless the operator opts out) is preserved from
// keyhandler.py.
const saltLen = 16

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(passphrase), salt, []byte("publsp-nostrid-key"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func encrypt(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return hex.EncodeToString(out), nil
}

func decrypt(encoded, passphrase string) (string, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if len(raw) < saltLen+chacha20poly1305.NonceSize {
		return "", fmt.Errorf("envelope too short")
	}
	salt := raw[:saltLen]
	nonce := raw[saltLen : saltLen+chacha20poly1305.NonceSize]
	ciphertext := raw[saltLen+chacha20poly1305.NonceSize:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: wrong passphrase or corrupt data")
	}
	return string(plain), nil
}

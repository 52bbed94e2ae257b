// Package preimage generates the 32-byte hodl-invoice preimage and its
// SHA-256 payment hash, in both hex and URL-safe base64 forms (§3).
package preimage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

type Preimage struct {
	bytes [32]byte
	hash  [32]byte
}

// Generate draws a fresh 32-byte random preimage P and computes H = SHA-256(P).
func Generate() (Preimage, error) {
	var p Preimage
	if _, err := rand.Read(p.bytes[:]); err != nil {
		return Preimage{}, fmt.Errorf("generate preimage: %w", err)
	}
	p.hash = sha256.Sum256(p.bytes[:])
	return p, nil
}

func (p Preimage) Hex() string        { return hex.EncodeToString(p.bytes[:]) }
func (p Preimage) HashHex() string    { return hex.EncodeToString(p.hash[:]) }
func (p Preimage) HashBase64() string { return base64.URLEncoding.EncodeToString(p.hash[:]) }
func (p Preimage) Base64() string     { return base64.URLEncoding.EncodeToString(p.bytes[:]) }
func (p Preimage) HashBytes() [32]byte { return p.hash }
